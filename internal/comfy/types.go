// Package comfy is a client for the ComfyUI HTTP API.
//
// A generation is three calls: Submit queues a filled workflow, Wait polls
// the history until the prompt finishes, and Fetch downloads the first
// output image. Generate runs all three.
package comfy

import "encoding/json"

// Default configuration constants
const (
	DefaultURL               = "http://127.0.0.1:8188"
	DefaultTimeout           = 30 // seconds, non-generation requests
	DefaultGenerationTimeout = 300
	DefaultPollInterval      = 1 // seconds
)

// API endpoints
const (
	EndpointPrompt      = "/prompt"
	EndpointHistory     = "/history/"
	EndpointView        = "/view"
	EndpointSystemStats = "/system_stats"
)

// Status strings reported by the history endpoint
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// maxImageSize caps downloaded image data (32 MB)
const maxImageSize = 32 * 1024 * 1024

// Image is a generated picture.
type Image struct {
	Format string // always "png"
	Data   []byte
}

// ImageRef identifies an output file on the ComfyUI server.
type ImageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// promptRequest is the body of POST /prompt. Prompt holds the workflow
// verbatim.
type promptRequest struct {
	Prompt   json.RawMessage `json:"prompt"`
	ClientID string          `json:"client_id"`
}

type promptResponse struct {
	PromptID   string                     `json:"prompt_id"`
	Number     int                        `json:"number"`
	NodeErrors map[string]json.RawMessage `json:"node_errors"`
}

type historyEntry struct {
	Status  historyStatus         `json:"status"`
	Outputs map[string]nodeOutput `json:"outputs"`
}

type historyStatus struct {
	StatusStr string `json:"status_str"`
	Completed bool   `json:"completed"`
}

type nodeOutput struct {
	Images []ImageRef `json:"images"`
}
