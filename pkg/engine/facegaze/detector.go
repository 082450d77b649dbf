package facegaze

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// ModelFile is the YuNet model looked up under the model base path.
const ModelFile = "face_detection_yunet_2023mar.onnx"

// DetectorConfig holds detector configuration
type DetectorConfig struct {
	ModelPath        string  // Path to ONNX model
	ConfidenceThresh float64 // Minimum confidence
	InputWidth       int     // Initial model input width
	InputHeight      int     // Initial model input height
}

// DefaultDetectorConfig returns production defaults for YuNet
func DefaultDetectorConfig(modelPath string) DetectorConfig {
	return DetectorConfig{
		ModelPath:        modelPath,
		ConfidenceThresh: 0.6,
		InputWidth:       320,
		InputHeight:      320,
	}
}

// Detector uses OpenCV's FaceDetectorYN for face and landmark detection
type Detector struct {
	detector gocv.FaceDetectorYN
	config   DetectorConfig
	mu       sync.Mutex // Protects inference
}

// NewDetector creates a YuNet detector
func NewDetector(cfg DetectorConfig) (*Detector, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	detector := gocv.NewFaceDetectorYNWithParams(
		cfg.ModelPath,
		"", // No config file needed for ONNX
		image.Pt(cfg.InputWidth, cfg.InputHeight),
		float32(cfg.ConfidenceThresh),
		0.3,  // NMS threshold
		5000, // Top K
		int(gocv.NetBackendDefault),
		int(gocv.NetTargetCPU),
	)

	return &Detector{
		detector: detector,
		config:   cfg,
	}, nil
}

// Detect finds faces in img
func (d *Detector) Detect(img gocv.Mat) ([]Face, error) {
	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.detector.SetInputSize(image.Pt(img.Cols(), img.Rows()))

	out := gocv.NewMat()
	defer out.Close()
	d.detector.Detect(img, &out)

	faces := make([]Face, 0, out.Rows())
	for r := 0; r < out.Rows(); r++ {
		// YuNet output format (15 columns):
		// 0-3: x, y, w, h
		// 4-13: 5 landmarks (x,y pairs)
		// 14: score
		f := Face{
			X:     float64(out.GetFloatAt(r, 0)),
			Y:     float64(out.GetFloatAt(r, 1)),
			W:     float64(out.GetFloatAt(r, 2)),
			H:     float64(out.GetFloatAt(r, 3)),
			Score: float64(out.GetFloatAt(r, 14)),
		}
		for i := range f.Landmarks {
			f.Landmarks[i] = Point{
				X: float64(out.GetFloatAt(r, 4+2*i)),
				Y: float64(out.GetFloatAt(r, 5+2*i)),
			}
		}
		faces = append(faces, f)
	}
	return faces, nil
}

// Close releases the detector resources
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detector.Close()
	return nil
}
