// Package north drains the reading buffer into the forwarder.
//
// Every interval the task reads its stream position, fetches the next block
// of readings after it, and hands the block to the forwarder. The position
// only advances by the count the forwarder reports, so a failed send
// (count 0) leaves the block to be retried on the next tick. Delivered
// rows are purged when configured.
//
// # Metrics
//
//	influxnorth_readings_sent_total        readings accepted by the destination
//	influxnorth_send_failures_total        blocks that were not delivered
//	influxnorth_block_duration_seconds     time spent per block
//	influxnorth_stream_position            last delivered reading ID
//	influxnorth_backlog_readings           readings waiting after the position
package north
