package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteDatastream mirrors one datastream sample into the local bucket.
//
// The write is non-blocking; samples are batched and sent
// asynchronously. A disconnected mirror silently drops samples: the
// mirror is best-effort by contract, delivery guarantees belong to the
// retention store.
//
// Parameters:
//   - interfaceName: The interface the sample belongs to
//   - path: The mapping path within the interface
//   - value: The sample value (numeric, string or bool)
//   - timestamp: The sample timestamp (explicit or enqueue time)
func (c *Client) WriteDatastream(interfaceName, path string, value any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"datastream",
		map[string]string{
			"interface": interfaceName,
			"path":      path,
		},
		map[string]interface{}{
			"value": value,
		},
		timestamp,
	)

	c.writeAPI.WritePoint(point)
}

// WriteBacklog records the retention backlog size, giving the local
// dashboard the same signal the realm sees through metrics.
func (c *Client) WriteBacklog(deviceID string, unsent int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"retention_backlog",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"unsent": unsent,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this for local measurements that don't fit the helpers.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
