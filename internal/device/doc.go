// Package device holds the in-memory model of a connected USB device as the
// enumeration backend reports it, and the parser for raw USB descriptor
// blobs.
//
// A Descriptor is the class-level view every backend can produce. When the
// backend can read the full descriptor tree it also attaches an Extended
// record, which is what structural fingerprinting consumes:
//
//	Descriptor
//	  └── Extended
//	        ├── device-level fields (bcdUSB, class triple, bcdDevice, ...)
//	        ├── Configurations → Interfaces → Endpoints
//	        ├── DescriptorSequence (emission order)
//	        └── StorageGeometry (mass storage only)
//
// Nothing in this package is persisted. Descriptors are rebuilt on every
// enumeration pass.
package device
