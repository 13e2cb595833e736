package main

import (
	"flag"
	"fmt"
	"os"

	"k8s.io/klog/v2"

	"github.com/GitsSaikat/Diffusion-Model-Incorporates-Forward-Forward-Algorithm/unet"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	var err error
	switch cmd := os.Args[1]; cmd {
	case "train":
		err = runTrain(os.Args[2:])
	case "sample":
		err = runSample(os.Args[2:])
	case "schedule":
		err = runSchedule(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		fatal("unknown command: %s", cmd)
	}
	if err != nil {
		fatal("%v", err)
	}
	klog.Flush()
}

func printUsage() {
	fmt.Println("ffdiff: diffusion denoiser trained with a forward-forward contrastive loss")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  ffdiff train    [-data dir] [-epochs n] [-steps T] [-out grid.png] ...")
	fmt.Println("  ffdiff sample   [-onnx model.onnx] [-steps T] [-n 64] [-seed s] [-out grid.png]")
	fmt.Println("  ffdiff schedule [-kind cosine] [-steps T] [-every k]")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  ffdiff train -data ./data/MNIST/raw -epochs 1 -steps 10 -out samples.png")
	fmt.Println("  ffdiff schedule -kind linear -steps 1000 -every 100")
	fmt.Println()
	fmt.Println("Environment: FFDIFF_DATA overrides -data, ORT_LIB points at libonnxruntime.")
}

// netFlags registers the network shape flags shared by train and sample.
func netFlags(fs *flag.FlagSet) func() unet.Config {
	def := unet.DefaultConfig()
	base := fs.Int("base", def.BaseChannels, "channels of the first down stage")
	layers := fs.Int("layers", def.NumLayers, "number of down/up stage pairs")
	embed := fs.Int("embed", def.EmbedDim, "step embedding width (0 disables step conditioning)")
	slope := fs.Float64("slope", def.LeakySlope, "LeakyReLU negative slope")
	return func() unet.Config {
		cfg := def
		cfg.BaseChannels = *base
		cfg.NumLayers = *layers
		cfg.EmbedDim = *embed
		cfg.LeakySlope = *slope
		return cfg
	}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	klog.InitFlags(fs)
	return fs
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	klog.Flush()
	os.Exit(1)
}
