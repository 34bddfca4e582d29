// Package observation defines the telemetry record produced by the field
// logger and the codec that converts between its comma separated text form
// and a typed Observation.
//
// Record layout (one per line, trailing delimiter included):
//
//	MM/DD/YYYY,HH:MM:SS.ffffff,batt,aX,aY,aZ,temp,press,wtemp,seq,
//
// Parsing is all-or-nothing: a record with the wrong field count or any
// field that fails numeric conversion is invalid and carries no data.
package observation
