package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/cymatic/internal/config"
	"github.com/andresmejia3/cymatic/internal/matcher"
	"github.com/andresmejia3/cymatic/internal/seed"
	"github.com/andresmejia3/cymatic/internal/types"
	"github.com/andresmejia3/cymatic/internal/utils"
	"github.com/andresmejia3/cymatic/internal/worker"
)

// errNoFace is returned when an image holds no usable face.
var errNoFace = errors.New("no faces detected in image")

var findCmd = &cobra.Command{
	Use:   "find <image_path>",
	Short: "Identify the face in an image against the seed profile or the database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runFind(cmd.Context(), args[0])
	},
}

func init() {
	config.AddFlags(findCmd, config.Flags,
		config.FlagThreshold, config.FlagPython, config.FlagScript, config.FlagTimeout,
		config.FlagDatabase, config.FlagSeed,
	)
	rootCmd.AddCommand(findCmd)
}

func runFind(ctx context.Context, imagePath string) error {
	vec, err := describeImage(ctx, imagePath)
	if errors.Is(err, errNoFace) {
		fmt.Println("❌ No faces detected in the provided image.")
		return nil
	}
	if err != nil {
		return err
	}

	var label string
	var dist float64
	if cfg.Seed.Path != "" {
		fmt.Fprintf(os.Stderr, "📄 Searching profile %s...\n", cfg.Seed.Path)
		profile, err := seed.File{Path: cfg.Seed.Path}.Load(ctx)
		if err != nil {
			utils.ShowError("Failed to load profile", err, nil)
			return err
		}
		res := matcher.Match(vec, profileFaces(profile), cfg.Match.Threshold)
		if res.Known() {
			label = res.Label
		}
		dist = res.Distance
	} else {
		fmt.Fprintln(os.Stderr, "🗄️  Searching database...")
		db, err := openStore(ctx)
		if err != nil {
			utils.ShowError("Database connection failed", err, nil)
			return err
		}
		defer db.Close(context.Background())

		label, dist, err = db.FindClosestIdentity(ctx, vec, cfg.Match.Threshold)
		if err != nil {
			utils.ShowError("Database search failed", err, nil)
			return err
		}
	}

	if label == "" {
		fmt.Println("❌ No match found.")
		return nil
	}
	fmt.Printf("✅ Found Match: %s (distance %.3f)\n", label, dist)
	if hz, ok := seed.LabelFrequency(label); ok {
		fmt.Printf("🎵 Plays at %.2f Hz\n", hz)
	}
	return nil
}

// describeImage runs one worker over a single image and returns the
// descriptor of its largest face.
func describeImage(ctx context.Context, imagePath string) (types.Descriptor, error) {
	if _, err := os.Stat(imagePath); os.IsNotExist(err) {
		utils.ShowError("Input file does not exist", err, nil)
		return nil, err
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	// We use ID 0 for this ad-hoc worker
	w, err := worker.NewPythonWorker(ctx, 0, worker.Config{
		Python:  cfg.Extractor.Python,
		Script:  cfg.Extractor.Script,
		Timeout: cfg.Extractor.Timeout.Duration,
		Logger:  log,
	})
	if err != nil {
		utils.ShowError("Failed to start AI worker", err, nil)
		return nil, err
	}
	defer w.Close()

	imgData, err := os.ReadFile(imagePath)
	if err != nil {
		utils.ShowError("Failed to read image file", err, nil)
		return nil, err
	}

	fmt.Fprintln(os.Stderr, "🔍 Analyzing face...")
	faces, err := w.ProcessFrame(imgData)
	if err != nil {
		utils.ShowError("AI processing failed", err, w.Cmd)
		return nil, err
	}
	if len(faces) > 1 {
		fmt.Fprintf(os.Stderr, "⚠️  Multiple faces detected (%d). Using the largest face.\n", len(faces))
	}

	face, ok := worker.Largest(faces)
	if !ok {
		return nil, errNoFace
	}
	return types.Descriptor(face.Vec), nil
}

// profileFaces turns a profile into matcher input, labels as ids.
func profileFaces(p seed.Profile) []types.RegisteredFace {
	faces := make([]types.RegisteredFace, 0, len(p))
	for _, e := range p {
		descs := make([]types.Descriptor, len(e.Descriptors))
		for i, d := range e.Descriptors {
			descs[i] = types.Descriptor(d)
		}
		faces = append(faces, types.RegisteredFace{ID: e.Label, Descriptors: descs})
	}
	return faces
}
