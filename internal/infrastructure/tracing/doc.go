/*
Package tracing provides lightweight request tracing.

Every HTTP request gets a span; trace and span ids are ULIDs propagated
through the X-Trace-ID and X-Span-ID headers. Finished spans are logged by a
background collector with a bounded buffer, so a slow log sink never stalls
request handling.

# Usage

	tracer := tracing.New("fsbridge", logger)
	defer tracer.Close()
	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "read_directory")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()

	logger.Info("listing", tracing.Fields(ctx)...)
*/
package tracing
