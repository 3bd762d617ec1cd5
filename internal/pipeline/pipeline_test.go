package pipeline_test

import (
	"github.com/blockforge/compiler/internal/pipeline"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

var _ = Describe("Run", func() {
	It("ignores the caller's pass ordering, applying the canonical order instead", func() {
		lines := []string{"! a comment", "||ads.example^", ""}
		forward := pipeline.Run(lines, []pipeline.TransformID{
			pipeline.RemoveComments, pipeline.RemoveEmptyLines, pipeline.TrimLines,
		}, pipeline.Options{})
		reversed := pipeline.Run(lines, []pipeline.TransformID{
			pipeline.TrimLines, pipeline.RemoveEmptyLines, pipeline.RemoveComments,
		}, pipeline.Options{})
		Expect(forward).To(Equal(reversed))
	})

	It("has no extra effect from listing a pass more than once", func() {
		lines := []string{"||a.com^", "||a.com^", "||b.com^"}
		once := pipeline.Run(lines, []pipeline.TransformID{pipeline.Deduplicate}, pipeline.Options{})
		twice := pipeline.Run(lines, []pipeline.TransformID{pipeline.Deduplicate, pipeline.Deduplicate}, pipeline.Options{})
		Expect(once).To(Equal(twice))
	})

	It("preserves rule order among lines that survive a pass", func() {
		lines := []string{"||a.com^", "! drop me", "||b.com^", "||c.com^"}
		out := pipeline.Run(lines, []pipeline.TransformID{pipeline.RemoveComments}, pipeline.Options{})
		Expect(out).To(Equal([]string{"||a.com^", "||b.com^", "||c.com^"}))
	})

	DescribeTable("each canonical pass is idempotent",
		func(id pipeline.TransformID) {
			lines := []string{"  ||ads.example^  ", "", "||ads.example^", "!c", "0.0.0.0 host.example"}
			once := pipeline.Run(lines, []pipeline.TransformID{id}, pipeline.Options{})
			twice := pipeline.Run(once, []pipeline.TransformID{id}, pipeline.Options{})
			Expect(twice).To(Equal(once))
		},
		Entry("ConvertToAscii", pipeline.ConvertToAscii),
		Entry("RemoveComments", pipeline.RemoveComments),
		Entry("Compress", pipeline.Compress),
		Entry("Validate", pipeline.Validate),
		Entry("Deduplicate", pipeline.Deduplicate),
		Entry("InvertAllow", pipeline.InvertAllow),
		Entry("RemoveEmptyLines", pipeline.RemoveEmptyLines),
		Entry("TrimLines", pipeline.TrimLines),
		Entry("InsertFinalNewLine", pipeline.InsertFinalNewLine),
	)

	It("compresses hosts-format rules to adblock form and normalizes blank lines (scenario 1)", func() {
		lines := []string{"# hdr", "0.0.0.0 ads.example", "0.0.0.0 ad.test"}
		out := pipeline.Run(lines, []pipeline.TransformID{
			pipeline.Compress, pipeline.RemoveComments, pipeline.TrimLines,
			pipeline.RemoveEmptyLines, pipeline.InsertFinalNewLine,
		}, pipeline.Options{})
		Expect(out).To(Equal([]string{"||ads.example^", "||ad.test^", ""}))
	})

	It("collapses two equivalent IDN wildcard rules to one punycode rule (scenario 2)", func() {
		lines := []string{"||*.ком^", "||*.ком^"}
		out := pipeline.Run(lines, []pipeline.TransformID{
			pipeline.ConvertToAscii, pipeline.Deduplicate, pipeline.TrimLines,
		}, pipeline.Options{})
		Expect(out).To(Equal([]string{"||*.xn--j1aef^"}))
	})

	It("drops IP-literal rules unless ValidateAllowIp is enabled", func() {
		lines := []string{"||1.2.3.4^", "||ads.example^"}
		dropped := pipeline.Run(lines, []pipeline.TransformID{pipeline.Validate}, pipeline.Options{})
		Expect(dropped).To(Equal([]string{"||ads.example^"}))

		kept := pipeline.Run(lines, []pipeline.TransformID{pipeline.ValidateAllowIP}, pipeline.Options{})
		Expect(kept).To(HaveLen(2))
	})

	It("drops dangerously broad patterns", func() {
		lines := []string{"*", "/", "||ads.example^"}
		out := pipeline.Run(lines, []pipeline.TransformID{pipeline.Validate}, pipeline.Options{})
		Expect(out).To(Equal([]string{"||ads.example^"}))
	})

	It("inverts blocking rules to allow rules, leaving existing allow rules as-is", func() {
		lines := []string{"||ads.example^", "@@||safe.example^"}
		out := pipeline.Run(lines, []pipeline.TransformID{pipeline.InvertAllow}, pipeline.Options{})
		Expect(out).To(Equal([]string{"@@||ads.example^", "@@||safe.example^"}))
	})

	It("strips denylisted modifiers, keeping the pattern-only form", func() {
		lines := []string{"||ads.example^$third-party,popup"}
		out := pipeline.Run(lines, []pipeline.TransformID{pipeline.RemoveModifiers}, pipeline.Options{
			RemoveModifiersDenyList: []string{"third-party", "popup"},
		})
		Expect(out).To(Equal([]string{"||ads.example^"}))
	})

	It("collapses multiple trailing blank lines to exactly one final newline", func() {
		lines := []string{"a", "", "", ""}
		out := pipeline.Run(lines, []pipeline.TransformID{pipeline.InsertFinalNewLine}, pipeline.Options{})
		Expect(out).To(Equal([]string{"a", ""}))
	})

	It("passes input through unchanged for an unrecognized transform id", func() {
		var diags []string
		lines := []string{"a"}
		out := pipeline.Run(lines, []pipeline.TransformID{"NotARealPass"}, pipeline.Options{Diagnostics: &diags})
		Expect(out).To(Equal(lines))
	})
})
