// Package ws streams telemetry samples over websocket. Every sample the
// telemetry loop publishes is sent as a JSON message of type "sample"; the
// preview image itself is not included.
package ws
