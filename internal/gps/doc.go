// Package gps provides the live position stream for the compass.
//
// It reads a USB serial GNSS receiver (NMEA RMC+GGA) or a gpsd daemon,
// keeps the latest fix as a snapshot, and fans fixes out to watchers. A
// staleness watchdog reports a fix error to watchers when no fix arrives
// within the configured timeout.
package gps
