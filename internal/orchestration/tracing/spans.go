package tracing

// Span attribute keys.
const (
	AttrRunID       = "run.id"
	AttrWorkerCount = "run.worker_count"
	AttrTransport   = "run.transport"
	AttrGatherMode  = "run.gather_mode"
	AttrDigest      = "run.params_digest"
	AttrWidth       = "image.width"
	AttrHeight      = "image.height"
	AttrMaxIters    = "image.max_iters"
	AttrChecksum    = "image.checksum"
	AttrFormat      = "image.format"
	AttrPath        = "image.path"

	AttrRank      = "worker.rank"
	AttrRowStart  = "worker.row_start"
	AttrRowEnd    = "worker.row_end"
	AttrPixels    = "worker.pixels"
	AttrMissing   = "gather.missing"
	AttrErrorType = "error.type"
)

// Span names.
const (
	SpanRun     = "render.run"
	SpanBarrier = "render.barrier"
	SpanCompute = "worker.compute"
	SpanGather  = "render.gather"
	SpanEmit    = "render.emit"
)

// Span event names.
const (
	EventConfigSent     = "config.sent"
	EventBarrierRelease = "barrier.released"
	EventResultPlaced   = "result.placed"
	EventResultSent     = "result.sent"
)
