// Package settings persists the operator-adjustable guard settings:
// whether unregistered devices are blocked automatically, the minimum
// audit level shown to readers, and the audit log bound. Values from the
// config file are the defaults until an operator saves new ones.
package settings
