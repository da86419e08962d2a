// Package tagger assigns catalogue tags to documents from regular expression
// patterns matched against the file name and content.
package tagger

import (
	"sort"
	"strings"

	"github.com/dlclark/regexp2"

	"mdrag/types"
)

// MinConfidence is the exclusive lower bound for a detection to be kept.
const MinConfidence = 0.5

type pattern struct {
	re         *regexp2.Regexp
	confidence float64
	reason     string
}

// Patterns use .NET syntax: \b and \w are Unicode-aware, so French words
// starting or ending with an accented letter match.
func p(expr string, confidence float64, reason string) pattern {
	return pattern{re: regexp2.MustCompile(expr, regexp2.IgnoreCase), confidence: confidence, reason: reason}
}

func (pt pattern) match(s string) bool {
	ok, err := pt.re.MatchString(s)
	return err == nil && ok
}

var patterns = map[string][]pattern{
	"C": {
		p(`\b(#include|printf|scanf|malloc|free|int\s+main|void\s+main)\b`, 0.9, "C language keywords"),
		p(`\.c\b`, 0.8, "C file extension"),
		p(`\bc\b.*\b(programming|language|code)\b`, 0.7, "C programming context"),
		p(`\b(gcc|clang|compiler)\b`, 0.6, "C compiler references"),
	},
	"Assembly": {
		p(`\b(asm|assembly|assembleur)\b`, 0.9, "Assembly language keywords"),
		p(`\b(6809|motorola)\b`, 0.9, "6809 processor"),
		p(`\b(lda|sta|jmp|jsr|rts|bra|beq|bne)\b`, 0.8, "6809 instructions"),
		p(`\.s\b|\.asm\b`, 0.8, "Assembly file extensions"),
		p(`\$[0-9A-Fa-f]+\b`, 0.6, "Hexadecimal addresses"),
	},
	"Basic": {
		p(`\b(basic|BASIC)\b`, 0.9, "BASIC language references"),
		p(`\b(PRINT|INPUT|FOR|NEXT|IF|THEN|GOTO|GOSUB|RETURN)\b`, 0.8, "BASIC commands"),
		p(`\.bas\b`, 0.8, "BASIC file extension"),
		p(`\b(line\s+number|POKE|PEEK)\b`, 0.7, "BASIC programming concepts"),
	},
	"text-mode": {
		p(`\b(text\s*mode|mode\s*texte)\b`, 0.9, "Text mode explicit"),
		p(`\b(character|caractère|char|text|texte)\b.*\b(display|affichage|screen|écran)\b`, 0.7, "Text display context"),
		p(`\b(console|terminal|cursor)\b`, 0.6, "Text interface elements"),
		p(`\b(80\s*x\s*25|40\s*x\s*25)\b`, 0.8, "Text mode resolutions"),
	},
	"graphics-mode": {
		p(`\b(graphics?\s*mode|mode\s*graphique)\b`, 0.9, "Graphics mode explicit"),
		p(`\b(pixel|bitmap|sprite|graphics?|graphique)\b`, 0.7, "Graphics concepts"),
		p(`\b(draw|plot|line|circle|rectangle)\b`, 0.6, "Drawing operations"),
		p(`\b(320\s*x\s*200|160\s*x\s*200)\b`, 0.8, "Graphics resolutions"),
		p(`\b(palette|color|couleur)\b`, 0.6, "Color/palette references"),
	},
	"hardware": {
		p(`\b(hardware|matériel|register|registre)\b`, 0.8, "Hardware references"),
		p(`\b(memory\s*map|carte\s*mémoire|I/O|port)\b`, 0.8, "Hardware mapping"),
		p(`\b(ROM|RAM|PIA|VIA|ACIA)\b`, 0.9, "Hardware components"),
		p(`\b(interrupt|interruption|IRQ|NMI)\b`, 0.8, "Interrupt handling"),
		p(`\$[A-Fa-f0-9]{4}\b`, 0.6, "Hardware addresses"),
	},
	"tools": {
		p(`\b(tools?|outils?|compiler?|compilateur)\b`, 0.8, "Development tools"),
		p(`\b(gcc|make|cmake|build|compilation)\b`, 0.8, "Build tools"),
		p(`\b(debugger?|débogueur|emulator|émulateur)\b`, 0.8, "Development tools"),
		p(`\b(install|installation|setup|configuration)\b`, 0.6, "Setup instructions"),
	},
	"examples": {
		p(`\b(example|exemple|sample|échantillon)\b`, 0.8, "Example content"),
		p(`\b(tutorial|tutoriel|guide|how\s*to)\b`, 0.7, "Tutorial content"),
		p("```", 0.6, "Code blocks"),
		p(`\b(demo|demonstration|test)\b`, 0.6, "Demo content"),
	},
}

// Detect scores every active tag of the catalogue against the lower-cased
// file name and content. The base confidence is the best matching pattern;
// a tag named in the file name gets +0.2 and every extra matching pattern
// +0.1, capped at 1. Results above MinConfidence are returned highest first.
func Detect(fileName, content string, available []types.Tag) []types.DetectedTag {
	lowerName := strings.ToLower(fileName)
	combined := lowerName + " " + strings.ToLower(content)

	var detected []types.DetectedTag
	for _, tag := range available {
		if !tag.IsActive {
			continue
		}
		pats, ok := patterns[tag.Name]
		if !ok {
			continue
		}

		var matched []pattern
		best := 0.0
		for _, pt := range pats {
			if pt.match(combined) {
				matched = append(matched, pt)
				best = max(best, pt.confidence)
			}
		}
		if len(matched) == 0 {
			continue
		}

		confidence := best
		if strings.Contains(lowerName, strings.ToLower(tag.Name)) {
			confidence = min(1, confidence+0.2)
		}
		if len(matched) > 1 {
			confidence = min(1, confidence+0.1*float64(len(matched)-1))
		}
		if confidence <= MinConfidence {
			continue
		}

		detected = append(detected, types.DetectedTag{
			TagName:    tag.Name,
			Confidence: confidence,
			Source:     types.SourceAuto,
			Reason:     reason(matched),
		})
	}

	sort.SliceStable(detected, func(i, j int) bool {
		return detected[i].Confidence > detected[j].Confidence
	})
	return detected
}

func reason(matched []pattern) string {
	sorted := make([]pattern, len(matched))
	copy(sorted, matched)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].confidence > sorted[j].confidence
	})

	var reasons []string
	for i := 0; i < len(sorted) && i < 2; i++ {
		reasons = append(reasons, sorted[i].reason)
	}
	if len(reasons) == 0 {
		return "Pattern match"
	}
	return strings.Join(reasons, ", ")
}
