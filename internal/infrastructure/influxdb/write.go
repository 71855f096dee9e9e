package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementRegistration = "registration"
	MeasurementVerification = "verification"
	MeasurementEnumeration  = "enumeration"
	MeasurementBlock        = "block"
)

// WriteRegistration records the outcome of a Register call. It satisfies
// the registry's Metrics hook.
//
// Canonical ids are unbounded, so they are fields rather than tags; the tags
// stay low cardinality.
func (c *Client) WriteRegistration(canonicalID string, secure, success bool) {
	c.writePoint(registrationPoint(canonicalID, secure, success, time.Now()))
}

// WriteVerification records a fingerprint comparison. A false valid is a
// BadUSB suspect and is what dashboards alert on.
func (c *Client) WriteVerification(canonicalID string, valid bool) {
	c.writePoint(verificationPoint(canonicalID, valid, time.Now()))
}

// ObserveEnumeration records one enumeration pass. It satisfies
// enumerate.Observer.
func (c *Client) ObserveEnumeration(devices int, took time.Duration, degraded bool) {
	c.writePoint(enumerationPoint(devices, took, degraded, time.Now()))
}

// WriteBlock records a block decision for an unregistered device.
func (c *Client) WriteBlock(canonicalID, deviceType string) {
	c.writePoint(blockPoint(canonicalID, deviceType, time.Now()))
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Example:
//
//	client.WritePoint("host_stats",
//	    map[string]string{"host": "kiosk-01"},
//	    map[string]interface{}{"usb_ports": 4})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.writePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() {
		c.dropped.Add(1)
		return
	}
	c.writeAPI.WritePoint(p)
}

func registrationPoint(canonicalID string, secure, success bool, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementRegistration,
		map[string]string{
			"secure":  strconv.FormatBool(secure),
			"outcome": outcome(success, "registered", "refused"),
		},
		map[string]interface{}{
			"canonical_id": canonicalID,
			"count":        1,
		},
		at,
	)
}

func verificationPoint(canonicalID string, valid bool, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementVerification,
		map[string]string{
			"outcome": outcome(valid, "valid", "mismatch"),
		},
		map[string]interface{}{
			"canonical_id": canonicalID,
			"valid":        valid,
		},
		at,
	)
}

func enumerationPoint(devices int, took time.Duration, degraded bool, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementEnumeration,
		map[string]string{
			"degraded": strconv.FormatBool(degraded),
		},
		map[string]interface{}{
			"devices":     devices,
			"duration_ms": took.Milliseconds(),
		},
		at,
	)
}

func blockPoint(canonicalID, deviceType string, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementBlock,
		map[string]string{
			"device_type": deviceType,
		},
		map[string]interface{}{
			"canonical_id": canonicalID,
			"count":        1,
		},
		at,
	)
}

func outcome(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
