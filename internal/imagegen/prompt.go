package imagegen

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	maxNameLen      = 50
	maxTaglineLen   = 100
	maxAccessoryLen = 30
	maxStyleLen     = 30
)

var styleNames = map[string]string{
	"superhero": "Superhero",
	"sci-fi":    "Sci-Fi",
	"fantasy":   "Fantasy",
	"anime":     "Anime",
	"western":   "Western",
	"modern":    "Modern",
	"medieval":  "Medieval",
	"spy":       "Secret Agent",
}

var promptReplacer = strings.NewReplacer(
	"{", "", "}", "", "[", "", "]", "", "`", "", "*", "", `\`, "", "_", "",
)

// PromptParams are the user-supplied figure details.
type PromptParams struct {
	Name        string
	Tagline     string
	Style       string
	Accessories []string
}

// Sanitize strips characters that could alter prompt structure and truncates
// to maxLen runes.
func Sanitize(input string, maxLen int) string {
	s := promptReplacer.Replace(input)
	if r := []rune(s); len(r) > maxLen {
		s = string(r[:maxLen])
	}
	return s
}

// StyleName maps a style id to its display name. Unknown ids are title-cased.
func StyleName(id string) string {
	if name, ok := styleNames[id]; ok {
		return name
	}
	return cases.Title(language.English).String(strings.ReplaceAll(id, "-", " "))
}

// BuildPrompt renders the edit instruction for a collectible figure.
func BuildPrompt(p PromptParams) string {
	name := Sanitize(p.Name, maxNameLen)
	tagline := Sanitize(p.Tagline, maxTaglineLen)

	var b strings.Builder
	b.WriteString("Edit the input image to create a hyper-realistic, 3D, collectible toy action figure. ")
	b.WriteString("The figure's face and appearance must closely resemble the person in the original photo. ")
	b.WriteString("Present the figure sealed inside professional toy packaging, a clear plastic blister pack on a backing card. ")
	fmt.Fprintf(&b, "The packaging must clearly display the name %q and the tagline %q. ", name, tagline)

	accessories := make([]string, 0, len(p.Accessories))
	for _, a := range p.Accessories {
		if a = strings.TrimSpace(Sanitize(a, maxAccessoryLen)); a != "" {
			accessories = append(accessories, a)
		}
	}
	if len(accessories) > 0 {
		fmt.Fprintf(&b, "Include miniature accessories visibly displayed in the packaging: %s. ", strings.Join(accessories, ", "))
	}

	if style := strings.TrimSpace(Sanitize(p.Style, maxStyleLen)); style != "" {
		fmt.Fprintf(&b, "The overall style of the figure and packaging should be '%s'. ", StyleName(style))
	} else {
		b.WriteString("Use a default modern action figure style. ")
	}

	b.WriteString("Render with cinematic photo-realism, studio lighting, soft shadows, 4K detail and realistic matte plastic textures. ")
	b.WriteString("Keep the entire figure and its packaging fully visible within the frame.")
	return b.String()
}
