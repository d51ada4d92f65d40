package types

import "image"

// FrameTask represents a single frame sent to a detector worker for processing
type FrameTask struct {
	Index int
	Name  string      // Source file path, or "frame N" for video input
	Data  []byte      // Encoded frame (JPEG/PNG) as sent to the detector
	Image image.Image // Decoded frame used for cropping; nil if undecodable
}
