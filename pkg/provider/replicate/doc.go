// Package replicate adapts Replicate's predictions API to the
// provider.Adapter interface. Predictions are created with the Prefer: wait
// fast path and polled to a terminal status when the model keeps running
// past the wait budget. Image and video map to separately configured model
// versions.
package replicate
