// Light API Router is a provider-agnostic reverse proxy exposing an
// OpenAI-compatible API surface.
//
// It forwards each request to the upstream described by a transformer file,
// rewriting paths, headers and model names on the way, while enforcing
// per-key rate limits, pooling upstream connections, and relaying SSE
// streams with heartbeats and backpressure.
//
// Usage:
//
//	# Serve using transformer/qwen.json
//	lightrouter
//
//	# Serve using transformer/openai.json on port 9000
//	lightrouter openai 9000
//
//	# Show version information
//	lightrouter version
package main

func main() {
	Execute()
}
