//go:build ort

package diffusion

import (
	"fmt"
	"os"

	ort "github.com/yalue/onnxruntime_go"
	"k8s.io/klog/v2"
)

// ORT input names of an exported denoiser
const (
	ortSampleInput   = "sample"
	ortTimestepInput = "timestep"
)

// ORTDenoiser runs an exported ONNX denoiser through ONNX Runtime (CPU).
// The model takes sample (float32 NCHW) and timestep (int64 [1]) and returns one tensor
// shaped like sample.
type ORTDenoiser struct {
	session *ort.DynamicAdvancedSession
	inputs  []string
}

// FindORTLibrary returns the ORT_LIB override or the first libonnxruntime found in the
// usual install locations.
func FindORTLibrary() string {
	if lib := os.Getenv("ORT_LIB"); lib != "" {
		return lib
	}
	for _, c := range []string{
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.dylib",
		"/opt/homebrew/lib/libonnxruntime.dylib",
	} {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func NewORTDenoiser(modelPath, libPath string) (*ORTDenoiser, error) {
	if libPath == "" {
		return nil, fmt.Errorf("%w: libonnxruntime not found, set ORT_LIB", ErrConfig)
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("ORT init: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("ORT model info: %w", err)
	}
	inNames := make([]string, len(inputs))
	for i, in := range inputs {
		if in.Name == ortSampleInput && in.DataType != ort.TensorElementDataTypeFloat {
			ort.DestroyEnvironment()
			return nil, fmt.Errorf("%w: %s input is %v, want float32", ErrConfig, in.Name, in.DataType)
		}
		inNames[i] = in.Name
		klog.V(1).Infof("ORT input %s %v %v", in.Name, in.DataType, in.Dimensions)
	}
	if len(outputs) != 1 {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("%w: denoiser has %d outputs, want 1", ErrConfig, len(outputs))
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("ORT options: %w", err)
	}
	defer opts.Destroy()
	opts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll)

	session, err := ort.NewDynamicAdvancedSession(modelPath, inNames, []string{outputs[0].Name}, opts)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("ORT session: %w", err)
	}
	return &ORTDenoiser{session: session, inputs: inNames}, nil
}

func (d *ORTDenoiser) Denoise(x *Tensor, t int) (*Tensor, error) {
	dims := make([]int64, len(x.Shape))
	for i, s := range x.Shape {
		dims[i] = int64(s)
	}
	sample, err := ort.NewTensor(ort.NewShape(dims...), x.Data)
	if err != nil {
		return nil, fmt.Errorf("sample tensor: %w", err)
	}
	defer sample.Destroy()
	step, err := ort.NewTensor(ort.NewShape(1), []int64{int64(t)})
	if err != nil {
		return nil, fmt.Errorf("timestep tensor: %w", err)
	}
	defer step.Destroy()

	in := make([]ort.Value, len(d.inputs))
	for i, name := range d.inputs {
		switch name {
		case ortSampleInput:
			in[i] = sample
		case ortTimestepInput:
			in[i] = step
		default:
			return nil, fmt.Errorf("%w: unexpected denoiser input %q", ErrConfig, name)
		}
	}

	// nil output: ORT allocates it
	out := make([]ort.Value, 1)
	if err := d.session.Run(in, out); err != nil {
		return nil, fmt.Errorf("ORT run at t=%d: %w", t, err)
	}
	defer out[0].Destroy()

	res, ok := out[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("%w: unsupported output tensor type %T", ErrData, out[0])
	}
	pred := NewTensor(x.Shape...)
	if len(res.GetData()) != len(pred.Data) {
		return nil, fmt.Errorf("%w: denoiser output has %d values, want %d", ErrData, len(res.GetData()), len(pred.Data))
	}
	copy(pred.Data, res.GetData())
	return pred, nil
}

func (d *ORTDenoiser) Close() error {
	if d.session != nil {
		if err := d.session.Destroy(); err != nil {
			return err
		}
	}
	return ort.DestroyEnvironment()
}
