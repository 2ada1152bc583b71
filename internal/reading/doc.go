// Package reading defines the sensor reading model forwarded to InfluxDB.
//
// A Reading carries an asset name, the time the data was taken and an
// ordered list of Datapoints. Each Datapoint value is a tagged union over
// integer, float, string and "other" (any JSON-representable data).
//
// Readings travel as JSON:
//
//	{"asset":"pump1","timestamp":"2024-05-01T10:00:00.123456Z",
//	 "readings":{"rpm":1200,"temp":41.5,"state":"ok"}}
//
// Datapoint order follows the order of keys in the "readings" object.
package reading
