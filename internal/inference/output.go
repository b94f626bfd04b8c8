package inference

import (
	"log/slog"

	"github.com/tidwall/gjson"
)

// ParseJobState normalizes a provider status response. Providers return
// output in several shapes depending on the model: a list of URL strings, a
// single string, an object with a url field, or a list of such objects.
// Unknown shapes degrade to an empty output list rather than an error.
func ParseJobState(raw []byte) *JobState {
	state := &JobState{
		Status: normalizeStatus(gjson.GetBytes(raw, "status").String()),
		Error:  gjson.GetBytes(raw, "error").String(),
	}
	state.Outputs = extractOutputs(gjson.GetBytes(raw, "output"))
	return state
}

func normalizeStatus(s string) JobStatus {
	switch s {
	case "starting", "queued":
		return JobStarting
	case "processing", "running", "training":
		return JobProcessing
	case "succeeded", "completed":
		return JobSucceeded
	case "failed", "error":
		return JobFailed
	case "canceled", "cancelled":
		return JobCanceled
	default:
		slog.Warn("unknown provider status, treating as processing", "status", s)
		return JobProcessing
	}
}

func extractOutputs(output gjson.Result) []string {
	switch {
	case !output.Exists() || output.Type == gjson.Null:
		return nil
	case output.IsArray():
		var urls []string
		for _, item := range output.Array() {
			if url := outputURL(item); url != "" {
				urls = append(urls, url)
			}
		}
		return urls
	default:
		if url := outputURL(output); url != "" {
			return []string{url}
		}
		slog.Warn("unrecognized provider output shape, dropping", "type", output.Type.String())
		return nil
	}
}

func outputURL(item gjson.Result) string {
	switch item.Type {
	case gjson.String:
		return item.String()
	case gjson.JSON:
		if item.IsObject() {
			if url := item.Get("url"); url.Type == gjson.String {
				return url.String()
			}
			if url := item.Get("image"); url.Type == gjson.String {
				return url.String()
			}
		}
	}
	slog.Warn("unrecognized provider output item, skipping", "raw", item.Raw)
	return ""
}
