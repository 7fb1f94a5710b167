package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/font"
	"gonum.org/v1/plot/font/liberation"
	"gonum.org/v1/plot/text"
)

// ErrFontNotFound reports that no CJK-capable font was found on the system.
var ErrFontNotFound = errors.New("no CJK font found")

// CJKFontCandidates are common install locations of fonts with Chinese glyphs.
var CJKFontCandidates = []string{
	"/usr/share/fonts/opentype/noto/NotoSansCJK-Regular.ttc",
	"/usr/share/fonts/noto-cjk/NotoSansCJK-Regular.ttc",
	"/usr/share/fonts/google-noto-cjk/NotoSansCJK-Regular.ttc",
	"/usr/share/fonts/truetype/wqy/wqy-microhei.ttc",
	"/usr/share/fonts/truetype/wqy/wqy-zenhei.ttc",
	"/usr/share/fonts/truetype/arphic/uming.ttc",
	"/System/Library/Fonts/PingFang.ttc",
	"/System/Library/Fonts/STHeiti Light.ttc",
	"/Library/Fonts/Arial Unicode.ttf",
	`C:\Windows\Fonts\simsun.ttc`,
	`C:\Windows\Fonts\msyh.ttc`,
}

// Font is a parsed chart font.
type Font struct {
	typeface font.Typeface
	face     *opentype.Font
}

// Typeface is the name the font is registered under.
func (f *Font) Typeface() font.Typeface { return f.typeface }

// LoadFont reads a TrueType or OpenType file. For a collection (.ttc, .otc)
// the first face is used.
func LoadFont(path string) (*Font, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read font %s: %w", path, err)
	}
	return ParseFont(raw, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
}

// ParseFont parses font data. fallbackName names the typeface when the font
// carries no family name.
func ParseFont(raw []byte, fallbackName string) (*Font, error) {
	coll, err := opentype.ParseCollection(raw)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	if coll.NumFonts() == 0 {
		return nil, errors.New("parse font: empty collection")
	}
	face, err := coll.Font(0)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	name, err := face.Name(nil, sfnt.NameIDFamily)
	if err != nil || strings.TrimSpace(name) == "" {
		name = fallbackName
	}
	return &Font{typeface: font.Typeface(name), face: face}, nil
}

// FindCJKFont returns the first candidate path that exists.
func FindCJKFont(candidates []string) (string, error) {
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", ErrFontNotFound
}

// MissingGlyphs returns the distinct runes of texts that f cannot draw. A nil
// f checks against the default chart font.
func MissingGlyphs(f *Font, texts ...string) []rune {
	face := defaultFace()
	if f != nil {
		face = f.face
	}
	if face == nil {
		return nil
	}

	var (
		buf     sfnt.Buffer
		seen    = make(map[rune]bool)
		missing []rune
	)
	for _, s := range texts {
		for _, r := range s {
			if seen[r] || unicode.IsSpace(r) || !unicode.IsPrint(r) {
				continue
			}
			seen[r] = true
			if idx, err := face.GlyphIndex(&buf, r); err != nil || idx == 0 {
				missing = append(missing, r)
			}
		}
	}
	return missing
}

func defaultFace() *opentype.Font {
	for _, f := range liberation.Collection() {
		if f.Font.Typeface == plot.DefaultFont.Typeface && f.Font.Variant == plot.DefaultFont.Variant &&
			f.Font.Style == plot.DefaultFont.Style && f.Font.Weight == plot.DefaultFont.Weight {
			return f.Face
		}
	}
	return nil
}

// handler registers f in a private cache so concurrent charts never touch
// the package-wide gonum font cache.
func (f *Font) handler() text.Handler {
	return text.Plain{Fonts: font.NewCache(font.Collection{{
		Font: font.Font{Typeface: f.typeface},
		Face: f.face,
	}})}
}

// restyle points a text style at f, keeping its size.
func (f *Font) restyle(sty *text.Style, hdlr text.Handler) {
	sty.Font = font.Font{Typeface: f.typeface, Size: sty.Font.Size}
	sty.Handler = hdlr
}
