// Package httpclient provides the HTTP plumbing shared by the JSON ledger
// adapter and the TPS fetchers.
//
// [NewClient] returns a client with connection reuse tuned for many small
// concurrent requests. [RequestBuilder] applies validated static headers and,
// when tracing propagation is on, W3C trace context:
//
//	builder, err := httpclient.NewRequestBuilder(map[string]string{"Authorization": "Bearer x"}, true)
//	req, err := builder.Build(ctx, http.MethodPost, submitURL, body)
//	resp, err := httpclient.Do(client, req)
//
// [Do] reads the whole body and reports non-2xx responses as [StatusError]
// while still returning the response, so callers can inspect the body.
package httpclient
