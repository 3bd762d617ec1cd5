package orchestrator_test

import (
	"context"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/blockforge/compiler/internal/config"
	"github.com/blockforge/compiler/internal/orchestrator"
	"github.com/blockforge/compiler/internal/pipeline"
	"github.com/blockforge/compiler/internal/store"
)

func newOrchestrator(pre map[string]string) *orchestrator.Orchestrator {
	adapter := store.NewMemAdapter()
	return orchestrator.New(adapter, orchestrator.Options{PreFetched: pre})
}

func simpleConfig() config.Configuration {
	return config.Configuration{
		Name: "basic-list",
		Sources: []config.SourceConfig{
			{Source: "mem://a", Name: "source-a"},
		},
		Transformations: []pipeline.TransformID{pipeline.TrimLines, pipeline.RemoveEmptyLines},
	}
}

var _ = Describe("Compile", func() {
	It("compiles a single source end to end with header and checksum", func() {
		orch := newOrchestrator(map[string]string{
			"a": "||ads.example.com^\n||tracker.example.net^\n",
		})
		res, err := orch.Compile(context.Background(), simpleConfig(), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Success).To(BeTrue())
		Expect(res.RuleCount).To(Equal(2))
		Expect(res.Checksum).NotTo(BeEmpty())

		joined := strings.Join(res.Rules, "\n")
		Expect(joined).To(ContainSubstring("! Checksum:"))
		Expect(joined).To(ContainSubstring("! Title: basic-list"))
		Expect(res.Deduplicated).To(BeFalse())
	})

	It("serves the second identical compile from the result cache", func() {
		orch := newOrchestrator(map[string]string{"a": "||ads.example.com^\n"})
		cfg := simpleConfig()

		first, err := orch.Compile(context.Background(), cfg, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(first.Cached).To(BeFalse())

		second, err := orch.Compile(context.Background(), cfg, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(second.Cached).To(BeTrue())
		Expect(second.Checksum).To(Equal(first.Checksum))
	})

	It("marks exactly one of two overlapping identical compiles as deduplicated", func() {
		adapter := store.NewMemAdapter()
		orch := orchestrator.New(adapter, orchestrator.Options{
			PreFetched: map[string]string{"a": "||ads.example.com^\n"},
		})
		cfg := simpleConfig()

		var wg sync.WaitGroup
		results := make([]orchestrator.CompilationResult, 2)
		errs := make([]error, 2)
		wg.Add(2)
		for i := 0; i < 2; i++ {
			i := i
			go func() {
				defer wg.Done()
				results[i], errs[i] = orch.Compile(context.Background(), cfg, nil)
			}()
		}
		wg.Wait()

		for _, err := range errs {
			Expect(err).NotTo(HaveOccurred())
		}

		dedupCount := 0
		for _, r := range results {
			if r.Deduplicated {
				dedupCount++
			}
		}
		Expect(dedupCount).To(Equal(1))
		Expect(results[0].Checksum).To(Equal(results[1].Checksum))
	})

	It("returns an error for an already-cancelled context", func() {
		orch := newOrchestrator(map[string]string{"a": "||ads.example.com^\n"})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := orch.Compile(ctx, simpleConfig(), nil)
		Expect(err).To(HaveOccurred())
	})

	It("does not fail the compile when only an optional source is missing", func() {
		orch := newOrchestrator(map[string]string{"good": "||ads.example.com^\n"})
		cfg := config.Configuration{
			Name: "mixed-list",
			Sources: []config.SourceConfig{
				{Source: "mem://good", Name: "good"},
				{Source: "mem://missing", Name: "missing", Optional: true},
			},
		}
		res, err := orch.Compile(context.Background(), cfg, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Success).To(BeTrue())
		Expect(strings.Join(res.Rules, "\n")).To(ContainSubstring("ads.example.com"))
	})

	It("propagates failure of a required source", func() {
		orch := newOrchestrator(map[string]string{})
		cfg := config.Configuration{
			Name: "broken-list",
			Sources: []config.SourceConfig{
				{Source: "mem://missing", Name: "missing"},
			},
		}
		_, err := orch.Compile(context.Background(), cfg, nil)
		Expect(err).To(HaveOccurred())
	})

	It("emits compile:started first and compile:complete last", func() {
		orch := newOrchestrator(map[string]string{"a": "||ads.example.com^\n"})
		var mu sync.Mutex
		var types []string
		emit := func(ev orchestrator.Event) {
			mu.Lock()
			defer mu.Unlock()
			types = append(types, ev.Type)
		}
		_, err := orch.Compile(context.Background(), simpleConfig(), emit)
		Expect(err).NotTo(HaveOccurred())
		Expect(types).NotTo(BeEmpty())
		Expect(types[0]).To(Equal(orchestrator.EventCompileStarted))
		Expect(types[len(types)-1]).To(Equal(orchestrator.EventCompileComplete))
	})

	It("write-throughs a successful compile to the archive adapter when configured", func() {
		primary := store.NewMemAdapter()
		archiveAdapter := store.NewMemAdapter()
		orch := orchestrator.New(primary, orchestrator.Options{
			PreFetched: map[string]string{"a": "||ads.example.com^\n"},
			Archive:    archiveAdapter,
		})
		cfg := simpleConfig()

		res, err := orch.Compile(context.Background(), cfg, nil)
		Expect(err).NotTo(HaveOccurred())

		history, err := store.ListCompilations(context.Background(), archiveAdapter, cfg.Name, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(history).NotTo(BeEmpty())
		Expect(history[0].Checksum).To(Equal(res.Checksum))
	})

	It("drops rules matched by an exclusion pattern", func() {
		orch := newOrchestrator(map[string]string{
			"a": "||ads.example.com^\n||keepme.example.net^\n",
		})
		cfg := simpleConfig()
		cfg.Exclusions = []string{"ads.example.com"}
		res, err := orch.Compile(context.Background(), cfg, nil)
		Expect(err).NotTo(HaveOccurred())

		joined := strings.Join(res.Rules, "\n")
		Expect(joined).NotTo(ContainSubstring("ads.example.com"))
		Expect(joined).To(ContainSubstring("keepme.example.net"))
	})
})
