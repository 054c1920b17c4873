// Command flux-train is the thin external-facing CLI that wires
// config structs into the training engine: it owns flag parsing, a
// minimal id-sequence "dataset" loader, and the save/load cadence
// around training.Orchestrator. It does not tokenize text, download
// datasets, or sample from the model (spec.md §6 / SPEC_FULL.md §4's
// "thin collaborator" note) — those are external collaborators.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/fluxtrain/flux/config"
	"github.com/fluxtrain/flux/layers/transformer"
	"github.com/fluxtrain/flux/optimizer"
	"github.com/fluxtrain/flux/schedule"
	"github.com/fluxtrain/flux/training"
)

type cliLogger struct{}

func (cliLogger) Infow(msg string, kv ...interface{})  { log.Println(append([]interface{}{msg}, kv...)...) }
func (cliLogger) Errorw(msg string, kv ...interface{}) { log.Println(append([]interface{}{"ERROR", msg}, kv...)...) }

func main() {
	var (
		vocabSize  = flag.Int("vocab-size", 256, "vocabulary size")
		dModel     = flag.Int("d-model", 64, "model hidden dimension")
		nHeads     = flag.Int("n-heads", 4, "number of attention heads")
		nLayers    = flag.Int("n-layers", 4, "number of transformer blocks")
		dFF        = flag.Int("d-ff", 256, "feed-forward hidden dimension")
		maxSeqLen  = flag.Int("max-seq-len", 128, "maximum sequence length")
		lr         = flag.Float64("lr", 3e-4, "peak learning rate")
		warmup     = flag.Int("warmup-steps", 100, "linear warmup steps")
		iterations = flag.Int("iterations", 1000, "total training iterations")
		ckptEvery  = flag.Int("checkpoint-every", 100, "iterations between checkpoint writes")
		ckptPath   = flag.String("checkpoint", "flux.ckpt", "checkpoint output path")
		resume     = flag.String("resume", "", "checkpoint path to resume from, empty to start fresh")
		useBLAS    = flag.Bool("blas", false, "use the gonum blas64-backed matmul path")
		idsPath    = flag.String("ids", "", "path to a whitespace-separated token-id file (required)")
	)

	flag.Parse()

	if *idsPath == "" {
		log.Fatal("flux-train: -ids is required (a token-id array; tokenization is an external collaborator)")
	}

	ids, err := loadTokenIDs(*idsPath)
	if err != nil {
		log.Fatalf("flux-train: %v", err)
	}

	arch, err := config.NewArchitecture(*vocabSize, *dModel, *nHeads, *nLayers, *dFF, *maxSeqLen)
	if err != nil {
		log.Fatalf("flux-train: %v", err)
	}

	run, err := config.NewRun(*iterations, *ckptEvery)
	if err != nil {
		log.Fatalf("flux-train: %v", err)
	}

	if *useBLAS {
		run.UseBLAS = true
	}

	model, err := transformer.New(arch)
	if err != nil {
		log.Fatalf("flux-train: %v", err)
	}

	adam := optimizer.NewAdam(*lr)
	sched := schedule.New(*lr, *warmup, *iterations)

	orch, err := training.New(model, adam, sched, run, training.WithLogger(cliLogger{}))
	if err != nil {
		log.Fatalf("flux-train: %v", err)
	}

	if *resume != "" {
		f, err := os.Open(*resume)
		if err != nil {
			log.Fatalf("flux-train: opening resume checkpoint: %v", err)
		}

		if _, err := orch.LoadCheckpoint(f); err != nil {
			f.Close()
			log.Fatalf("flux-train: loading checkpoint: %v", err)
		}

		f.Close()
	}

	if err := runLoop(orch, ids, *maxSeqLen, *iterations, *ckptEvery, *ckptPath); err != nil {
		log.Fatalf("flux-train: %v", err)
	}
}

// runLoop drives a fixed number of training iterations over a single
// long id sequence, windowing fixed-length (input, target) pairs out of
// it — a minimal stand-in dataset loader, since spec.md's Non-goals
// exclude dataset download/caching from the core.
func runLoop(orch *training.Orchestrator, ids []int, seqLen, iterations, ckptEvery int, ckptPath string) error {
	if len(ids) < seqLen+1 {
		return fmt.Errorf("token-id file has %d ids, need at least %d for seq_len %d", len(ids), seqLen+1, seqLen)
	}

	var lastLoss float64

	for i := 1; i <= iterations; i++ {
		start := (i - 1) * seqLen % (len(ids) - seqLen)

		batch := training.Batch{
			InputIDs:  ids[start : start+seqLen],
			TargetIDs: ids[start+1 : start+seqLen+1],
		}

		result, err := orch.Step(batch)
		if err != nil {
			return fmt.Errorf("iteration %d: %w", i, err)
		}

		lastLoss = result.Loss

		if ckptEvery > 0 && i%ckptEvery == 0 {
			if err := writeCheckpoint(orch, ckptPath, lastLoss); err != nil {
				return err
			}
		}
	}

	return writeCheckpoint(orch, ckptPath, lastLoss)
}

func writeCheckpoint(orch *training.Orchestrator, path string, lastLoss float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating checkpoint file: %w", err)
	}
	defer f.Close()

	if err := orch.SaveCheckpoint(f, lastLoss); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}

	return nil
}

// loadTokenIDs reads a whitespace-separated list of decimal integers.
// This is a placeholder ingestion path, not the tokenizer file format
// of spec.md §6 (that format, and the text-to-id mapping it implies,
// belongs to the external tokenizer collaborator).
func loadTokenIDs(path string) ([]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var ids []int
	var cur int
	inNum := false

	for _, b := range data {
		switch {
		case b >= '0' && b <= '9':
			cur = cur*10 + int(b-'0')
			inNum = true
		default:
			if inNum {
				ids = append(ids, cur)
				cur = 0
				inNum = false
			}
		}
	}

	if inNum {
		ids = append(ids, cur)
	}

	return ids, nil
}
