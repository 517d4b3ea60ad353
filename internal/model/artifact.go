package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/ktrdr/ktrdr/internal/kerrors"
	"github.com/ktrdr/ktrdr/pkg/types"
	"gonum.org/v1/gonum/mat"
)

// weightsFile is the on-disk representation of a Network's parameters.
type weightsFile struct {
	Architecture Architecture  `json:"architecture"`
	Weights      [][]float64   `json:"weights"` // flattened, one entry per layer
	WeightDims   [][2]int      `json:"weightDims"`
	Biases       [][]float64   `json:"biases"`
}

// Store manages versioned model artifact directories under root, laid out
// as <root>/<strategy>/<symbol>_<timeframe>_vN/, with a "latest" symlink
// pointer updated only after the version directory is fully written.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) strategyDir(strategy string) string {
	return filepath.Join(s.root, strategy)
}

func (s *Store) versionDir(strategy, symbol, timeframe string, version int) string {
	name := fmt.Sprintf("%s_%s_v%d", symbol, timeframe, version)
	return filepath.Join(s.strategyDir(strategy), name)
}

func (s *Store) latestLink(strategy, symbol, timeframe string) string {
	name := fmt.Sprintf("%s_%s_latest", symbol, timeframe)
	return filepath.Join(s.strategyDir(strategy), name)
}

// NextVersion scans existing version directories for (symbol, timeframe)
// and returns the next semantic version number.
func (s *Store) NextVersion(strategy, symbol, timeframe string) (int, error) {
	dir := s.strategyDir(strategy)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	prefix := fmt.Sprintf("%s_%s_v", symbol, timeframe)
	max := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(name, prefix))
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max + 1, nil
}

// Save materializes a new version directory atomically: it writes every
// artifact file into a temporary directory, then renames it into place in
// one filesystem operation, and only then updates the "latest" pointer —
// so a reader always observes a fully-written version or none at all.
func (s *Store) Save(strategy, symbol, timeframe string, version int, net *Network, meta types.ModelArtifactMeta) error {
	if meta.VersionID == "" {
		meta.VersionID = uuid.NewString()
	}
	meta.Version = version

	finalDir := s.versionDir(strategy, symbol, timeframe, version)
	tmpDir := finalDir + ".tmp-" + uuid.NewString()

	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return &kerrors.ModelError{Message: "creating artifact staging dir: " + err.Error()}
	}
	defer os.RemoveAll(tmpDir)

	wf := toWeightsFile(net)
	if err := writeJSON(filepath.Join(tmpDir, "weights.json"), wf); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(tmpDir, "meta.json"), meta); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(tmpDir, "metrics.json"), map[string]interface{}{
		"train": meta.TrainMetrics, "val": meta.ValMetrics, "test": meta.TestMetrics,
	}); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(tmpDir, "feature_importance.json"), meta.FeatureImportance); err != nil {
		return err
	}

	if err := os.Rename(tmpDir, finalDir); err != nil {
		return &kerrors.ModelError{Message: "promoting artifact version: " + err.Error()}
	}

	latest := s.latestLink(strategy, symbol, timeframe)
	_ = os.Remove(latest)
	if err := os.Symlink(filepath.Base(finalDir), latest); err != nil {
		return &kerrors.ModelError{Message: "updating latest pointer: " + err.Error()}
	}
	return nil
}

// Load reads a version directory (or the "latest" pointer when version is
// 0) and reconstructs the network and its metadata.
func (s *Store) Load(strategy, symbol, timeframe string, version int) (*Network, types.ModelArtifactMeta, error) {
	var dir string
	if version == 0 {
		dir = s.latestLink(strategy, symbol, timeframe)
	} else {
		dir = s.versionDir(strategy, symbol, timeframe, version)
	}

	var wf weightsFile
	if err := readJSON(filepath.Join(dir, "weights.json"), &wf); err != nil {
		return nil, types.ModelArtifactMeta{}, &kerrors.ModelError{Version: strconv.Itoa(version), Message: "loading weights: " + err.Error()}
	}
	var meta types.ModelArtifactMeta
	if err := readJSON(filepath.Join(dir, "meta.json"), &meta); err != nil {
		return nil, types.ModelArtifactMeta{}, &kerrors.ModelError{Version: strconv.Itoa(version), Message: "loading metadata: " + err.Error()}
	}
	if len(meta.Scaler.Mean) == 0 && meta.Scaler.Method == "standard" {
		return nil, types.ModelArtifactMeta{}, &kerrors.ModelError{Version: strconv.Itoa(version), Message: "scaler not fit"}
	}

	net := fromWeightsFile(wf)
	return net, meta, nil
}

// CheckFeatureSchema validates an inference feature vector's width against
// the artifact's declared schema.
func CheckFeatureSchema(meta types.ModelArtifactMeta, features []float64) error {
	if len(features) != len(meta.FeatureColumns) {
		return &kerrors.FeatureSchemaMismatchError{Expected: len(meta.FeatureColumns), Got: len(features)}
	}
	return nil
}

func toWeightsFile(net *Network) weightsFile {
	wf := weightsFile{Architecture: net.arch}
	for i := range net.weights {
		rows, cols := net.weights[i].Dims()
		flat := make([]float64, 0, rows*cols)
		for r := 0; r < rows; r++ {
			flat = append(flat, mat.Row(nil, r, net.weights[i])...)
		}
		wf.Weights = append(wf.Weights, flat)
		wf.WeightDims = append(wf.WeightDims, [2]int{rows, cols})

		_, bcols := net.biases[i].Dims()
		wf.Biases = append(wf.Biases, mat.Row(nil, 0, net.biases[i]))
		_ = bcols
	}
	return wf
}

func fromWeightsFile(wf weightsFile) *Network {
	n := &Network{arch: wf.Architecture}
	for i, dims := range wf.WeightDims {
		w := mat.NewDense(dims[0], dims[1], append([]float64(nil), wf.Weights[i]...))
		b := mat.NewDense(1, dims[1], append([]float64(nil), wf.Biases[i]...))
		n.weights = append(n.weights, w)
		n.biases = append(n.biases, b)
	}
	return n
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &kerrors.ModelError{Message: "encoding artifact: " + err.Error()}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &kerrors.ModelError{Message: "writing artifact: " + err.Error()}
	}
	return nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
