package ai

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knights-analytics/hugot"
)

const defaultHugotModel = "sentence-transformers/all-MiniLM-L6-v2"

type hugotConfig struct {
	ModelDir     string `json:"model_dir"`
	OnnxFilePath string `json:"onnx_file_path"`
}

// hugotModel runs a sentence-transformers model in process. The pipeline is
// not safe for concurrent use, so inference is serialized.
type hugotModel struct {
	mu      sync.Mutex
	session *hugot.Session
	run     func(texts []string) ([][]float32, error)
}

func (m *hugotModel) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := m.run([]string{text})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no embedding generated")
	}
	return out[0], nil
}

func (m *hugotModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}

func createHugotModel(ctx context.Context, model string, dimension int, args interface{}) (IEmbedModel, error) {
	cfg := &hugotConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if model == "" {
		model = defaultHugotModel
	}
	modelPath, err := prepareHugotModel(model, cfg)
	if err != nil {
		return nil, err
	}
	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("create hugot session: %w", err)
	}
	pipeline, err := hugot.NewPipeline(session, hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "casememo-embedder",
	})
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("create feature extraction pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("create feature extraction pipeline: %w", err)
	}
	return &hugotModel{
		session: session,
		run: func(texts []string) ([][]float32, error) {
			result, err := pipeline.RunPipeline(texts)
			if err != nil {
				return nil, err
			}
			return result.Embeddings, nil
		},
	}, nil
}

// prepareHugotModel downloads the model on first use and returns its local path.
func prepareHugotModel(model string, cfg *hugotConfig) (string, error) {
	modelDir := cfg.ModelDir
	if modelDir == "" {
		modelDir = "./models"
	}
	modelPath := filepath.Join(modelDir, strings.ReplaceAll(model, "/", "_"))
	if _, err := os.Stat(modelPath); err == nil {
		return modelPath, nil
	} else if !os.IsNotExist(err) {
		return "", err
	}
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return "", fmt.Errorf("create model directory: %w", err)
	}
	opts := hugot.NewDownloadOptions()
	opts.OnnxFilePath = cfg.OnnxFilePath
	if opts.OnnxFilePath == "" {
		opts.OnnxFilePath = "onnx/model.onnx"
	}
	downloaded, err := hugot.DownloadModel(model, modelDir, opts)
	if err != nil {
		return "", fmt.Errorf("download model %s: %w", model, err)
	}
	return downloaded, nil
}

func init() {
	RegisterEmbed("hugot", createHugotModel)
}
