// Package influxdb records deviceguard security metrics in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched non-blocking writes and health monitoring.
//
// Measurements:
//   - registration: outcome of every Register call, tagged secure/outcome
//   - verification: fingerprint comparisons, tagged valid/mismatch
//   - enumeration: device count and duration of each enumeration pass
//   - block: block decisions for unregistered devices
//
// Metrics are an operational view only. The audit log stays the record of
// security events; a write that InfluxDB drops loses nothing an
// administrator relies on.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteVerification(string(id), false)
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes on a closed or
// unconnected client are dropped.
package influxdb
