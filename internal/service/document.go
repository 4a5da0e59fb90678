package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/xxxsen/casememo/internal/model"
	appErr "github.com/xxxsen/casememo/internal/pkg/errors"
)

const (
	repairKeyPrefix  = model.CaseKindRepair + ":"
	articleKeyPrefix = model.CaseKindArticle + ":"

	articleLabelPrefix   = "ART: "
	maxArticleLabelRunes = 60
)

func RepairSourceKey(id int64) string {
	return repairKeyPrefix + strconv.FormatInt(id, 10)
}

func ArticleSourceKey(id int64) string {
	return articleKeyPrefix + strconv.FormatInt(id, 10)
}

// ParseSourceKey splits a source key into its kind and numeric id.
func ParseSourceKey(key string) (string, int64, error) {
	kind, raw, ok := strings.Cut(strings.TrimSpace(key), ":")
	if !ok || (kind != model.CaseKindRepair && kind != model.CaseKindArticle) {
		return "", 0, fmt.Errorf("%w: source key %q", appErr.ErrInvalid, key)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, fmt.Errorf("%w: source key %q", appErr.ErrInvalid, key)
	}
	return kind, id, nil
}

func RepairLabel(r *model.Repair) string {
	if ticket := strings.TrimSpace(r.TicketNumber); ticket != "" {
		return ticket
	}
	return "#" + strconv.FormatInt(r.ID, 10)
}

func ArticleLabel(a *model.Article) string {
	title := collapseSpaces(a.Title)
	if title == "" {
		title = "#" + strconv.FormatInt(a.ID, 10)
	}
	return articleLabelPrefix + truncateRunes(title, maxArticleLabelRunes)
}

type documentBuilder struct {
	lines []string
}

func (b *documentBuilder) add(label, value string) {
	value = collapseSpaces(value)
	if value == "" {
		return
	}
	if label == "" {
		b.lines = append(b.lines, value)
		return
	}
	b.lines = append(b.lines, label+": "+value)
}

func (b *documentBuilder) String() string {
	return strings.Join(b.lines, "\n")
}

// BuildRepairDocument renders the text that represents a repair in the
// vector space. Field order is fixed and empty fields are left out.
func BuildRepairDocument(r *model.Repair) string {
	b := &documentBuilder{}
	b.add("Equipo", r.DeviceBrand+" "+r.DeviceModel)
	b.add("Problema", r.Problem)
	b.add("Diagnóstico", r.Diagnosis)
	b.add("Observaciones", r.Observations)
	b.add("Repuestos", r.PartsUsed)
	if r.LiquidDamage {
		b.add("Humedad", "equipo con daño por líquido")
	}
	return b.String()
}

// BuildArticleDocument renders a knowledge article with the same layout as a
// repair so both kinds land close to each other for the same fault.
func BuildArticleDocument(a *model.Article) string {
	b := &documentBuilder{}
	if title := collapseSpaces(a.Title); title != "" {
		b.add("", "[ARTICULO] "+title)
	}
	b.add("Equipo", a.DeviceBrand+" "+a.DeviceModel)
	b.add("Problema", a.Problem)
	b.add("Diagnóstico", a.Solution)
	b.add("Detalle", flattenMarkdown(a.Body))
	b.add("Etiquetas", a.Tags)
	return b.String()
}

func NewRepairRecord(r *model.Repair) *model.CaseRecord {
	content := BuildRepairDocument(r)
	return &model.CaseRecord{
		SourceKey:    RepairSourceKey(r.ID),
		DisplayLabel: RepairLabel(r),
		DeviceBrand:  strings.TrimSpace(r.DeviceBrand),
		DeviceModel:  strings.TrimSpace(r.DeviceModel),
		ContentText:  content,
		ContentHash:  contentHash(content),
	}
}

func NewArticleRecord(a *model.Article) *model.CaseRecord {
	content := BuildArticleDocument(a)
	return &model.CaseRecord{
		SourceKey:    ArticleSourceKey(a.ID),
		DisplayLabel: ArticleLabel(a),
		DeviceBrand:  strings.TrimSpace(a.DeviceBrand),
		DeviceModel:  strings.TrimSpace(a.DeviceModel),
		ContentText:  content,
		ContentHash:  contentHash(content),
	}
}

func contentHash(content string) string {
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}

// flattenMarkdown reduces markdown to its visible text on a single line.
func flattenMarkdown(markdown string) string {
	if strings.TrimSpace(markdown) == "" {
		return ""
	}
	source := []byte(markdown)
	doc := goldmark.New().Parser().Parse(text.NewReader(source))
	var sb strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				sb.Write(node.Segment.Value(source))
				if node.SoftLineBreak() || node.HardLineBreak() {
					sb.WriteByte(' ')
				}
			}
		case *ast.String:
			if entering {
				sb.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				sb.Write(node.Label(source))
			}
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := node.Lines()
				for i := 0; i < lines.Len(); i++ {
					line := lines.At(i)
					sb.Write(line.Value(source))
				}
				sb.WriteByte('\n')
			}
			return ast.WalkSkipChildren, nil
		default:
			if !entering && n.Type() == ast.TypeBlock {
				sb.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})
	return collapseSpaces(sb.String())
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
