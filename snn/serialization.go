package snn

import (
	"encoding/base64"
	"encoding/json"
	"math/rand"
	"os"
	"strings"

	"github.com/pkg/errors"
)

const (
	bundleType    = "snnloom/bundle"
	weightsFormat = "jsonModelB64"
)

// ModelBundle represents a collection of saved models
type ModelBundle struct {
	Type    string       `json:"type"`
	Version int          `json:"version"`
	Models  []SavedModel `json:"models"`
}

// SavedModel represents a single saved model with config and weights
type SavedModel struct {
	ID      string         `json:"id"`
	Config  NetworkConfig  `json:"cfg"`
	Weights EncodedWeights `json:"weights"`
}

// NetworkConfig represents the network architecture
type NetworkConfig struct {
	ID        string            `json:"id"`
	TimeSteps int               `json:"time_steps"`
	Blocks    []BlockDefinition `json:"blocks"`
	Seed      int64             `json:"seed,omitempty"`
}

// BlockDefinition defines a single block's configuration
type BlockDefinition struct {
	Type       string     `json:"type"`
	InputSize  int        `json:"input_size"`
	OutputSize int        `json:"output_size"`
	Neuron     CUBAParams `json:"neuron"`
}

// EncodedWeights stores weights in base64-encoded JSON format
type EncodedWeights struct {
	Format string `json:"fmt"`
	Data   string `json:"data"`
}

// WeightsData represents the actual parameter values
type WeightsData struct {
	Type   string         `json:"type"`
	Blocks []BlockWeights `json:"blocks"`
}

// BlockWeights stores the parameters of a single block
type BlockWeights struct {
	Weights []float32 `json:"weights,omitempty"`
	Decay   []float32 `json:"decay"`
	Gain    float32   `json:"gain,omitempty"`
	Bias    float32   `json:"bias,omitempty"`
}

func newBundle() ModelBundle {
	return ModelBundle{
		Type:    bundleType,
		Version: 1,
		Models:  []SavedModel{},
	}
}

// SaveModel saves a single model to a file
func (n *Network) SaveModel(filename string, modelID string) error {
	bundle := newBundle()

	savedModel, err := n.SerializeModel(modelID)
	if err != nil {
		return errors.Wrap(err, "failed to serialize model")
	}
	bundle.Models = append(bundle.Models, savedModel)

	return bundle.SaveToFile(filename)
}

// SaveModelToString saves a single model to a JSON string
func (n *Network) SaveModelToString(modelID string) (string, error) {
	bundle := newBundle()

	savedModel, err := n.SerializeModel(modelID)
	if err != nil {
		return "", errors.Wrap(err, "failed to serialize model")
	}
	bundle.Models = append(bundle.Models, savedModel)

	return bundle.SaveToString()
}

// SerializeModel converts the network to a SavedModel structure
func (n *Network) SerializeModel(modelID string) (SavedModel, error) {
	config := NetworkConfig{
		ID:        modelID,
		TimeSteps: n.TimeSteps,
		Blocks:    make([]BlockDefinition, 0, len(n.Blocks)),
	}
	weightsData := WeightsData{
		Type:   "float32",
		Blocks: make([]BlockWeights, 0, len(n.Blocks)),
	}

	for _, b := range n.Blocks {
		config.Blocks = append(config.Blocks, BlockDefinition{
			Type:       b.Type.String(),
			InputSize:  b.InputSize,
			OutputSize: b.OutputSize,
			Neuron:     b.Neuron,
		})

		bw := BlockWeights{Decay: append([]float32(nil), b.Decay...)}
		if b.Type == BlockInput {
			bw.Gain, bw.Bias = b.Gain, b.Bias
		} else {
			bw.Weights = append([]float32(nil), b.Weights...)
		}
		weightsData.Blocks = append(weightsData.Blocks, bw)
	}

	weightsJSON, err := json.Marshal(weightsData)
	if err != nil {
		return SavedModel{}, errors.Wrap(err, "failed to marshal weights")
	}

	return SavedModel{
		ID:     modelID,
		Config: config,
		Weights: EncodedWeights{
			Format: weightsFormat,
			Data:   base64.StdEncoding.EncodeToString(weightsJSON),
		},
	}, nil
}

// SaveToString converts the bundle to a JSON string
func (b *ModelBundle) SaveToString() (string, error) {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal bundle")
	}
	return string(data), nil
}

// SaveToFile saves the bundle to a file
func (b *ModelBundle) SaveToFile(filename string) error {
	data, err := b.SaveToString()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filename, []byte(data), 0644); err != nil {
		return errors.Wrap(err, "failed to write file")
	}
	return nil
}

// LoadModel loads a single model from a file
func LoadModel(filename string, modelID string) (*Network, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read file")
	}
	return LoadModelFromString(string(data), modelID)
}

// LoadBundleFromString loads a model bundle from a JSON string
func LoadBundleFromString(jsonString string) (*ModelBundle, error) {
	var bundle ModelBundle
	if err := json.Unmarshal([]byte(jsonString), &bundle); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal bundle")
	}
	if bundle.Type != bundleType {
		return nil, errors.Errorf("invalid bundle type: %s", bundle.Type)
	}
	return &bundle, nil
}

// LoadModelFromString loads a single model from a JSON string
func LoadModelFromString(jsonString string, modelID string) (*Network, error) {
	bundle, err := LoadBundleFromString(jsonString)
	if err != nil {
		return nil, err
	}
	for _, savedModel := range bundle.Models {
		if savedModel.ID == modelID {
			return DeserializeModel(savedModel)
		}
	}
	return nil, errors.Errorf("model %s not found in bundle", modelID)
}

// DeserializeModel creates a Network from a SavedModel
func DeserializeModel(saved SavedModel) (*Network, error) {
	if saved.Weights.Format != weightsFormat {
		return nil, errors.Errorf("unsupported weights format: %s", saved.Weights.Format)
	}
	raw, err := base64.StdEncoding.DecodeString(saved.Weights.Data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode weights")
	}
	var weightsData WeightsData
	if err := json.Unmarshal(raw, &weightsData); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal weights")
	}
	if len(weightsData.Blocks) != len(saved.Config.Blocks) {
		return nil, errors.Wrapf(ErrShapeMismatch, "%d block definitions, %d weight entries",
			len(saved.Config.Blocks), len(weightsData.Blocks))
	}

	blocks := make([]BlockConfig, len(saved.Config.Blocks))
	for i, def := range saved.Config.Blocks {
		block, err := buildBlockConfig(def, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "block %d", i)
		}
		bw := weightsData.Blocks[i]
		if block.Type == BlockInput {
			block.Gain, block.Bias = bw.Gain, bw.Bias
		} else {
			block.Weights = bw.Weights
		}
		if len(bw.Decay) == 2 {
			block.Decay = bw.Decay
		}
		blocks[i] = block
	}
	return NewNetwork(saved.Config.TimeSteps, blocks...)
}

// BuildNetworkFromJSON creates a freshly initialized network from a JSON
// NetworkConfig. Weights are drawn from Seed.
func BuildNetworkFromJSON(jsonConfig string) (*Network, error) {
	var config NetworkConfig
	if err := json.Unmarshal([]byte(jsonConfig), &config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	rng := rand.New(rand.NewSource(config.Seed))
	blocks := make([]BlockConfig, len(config.Blocks))
	for i, def := range config.Blocks {
		block, err := buildBlockConfig(def, rng)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to build block %d", i)
		}
		blocks[i] = block
	}
	return NewNetwork(config.TimeSteps, blocks...)
}

// buildBlockConfig constructs a block from its definition. With a nil rng the
// weights are left for the caller to fill.
func buildBlockConfig(def BlockDefinition, rng *rand.Rand) (BlockConfig, error) {
	blockType, err := parseBlockType(def.Type)
	if err != nil {
		return BlockConfig{}, err
	}
	if def.InputSize <= 0 || def.OutputSize <= 0 {
		return BlockConfig{}, errors.Errorf("%s block: sizes must be positive, got %d→%d",
			def.Type, def.InputSize, def.OutputSize)
	}

	var block BlockConfig
	switch blockType {
	case BlockInput:
		block = InitInputBlock(def.Neuron, def.InputSize)
		block.OutputSize = def.OutputSize
	case BlockDense:
		block = InitDenseBlock(def.Neuron, def.InputSize, def.OutputSize, rng)
	case BlockAffine:
		block = InitAffineBlock(def.Neuron, def.InputSize, def.OutputSize, rng)
	}
	if rng == nil {
		block.Weights = nil
	}
	return block, nil
}

func parseBlockType(s string) (BlockType, error) {
	switch strings.ToLower(s) {
	case "input":
		return BlockInput, nil
	case "dense":
		return BlockDense, nil
	case "affine":
		return BlockAffine, nil
	default:
		return 0, errors.Errorf("unknown block type: %s", s)
	}
}
