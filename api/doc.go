// Package api defines the JSON payloads exchanged with the hosted search
// service. The client package encodes and decodes these types; callers may
// use them directly when building raw requests through Client.Dispatch.
package api
