package analysis

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	sheetNonMutual = "Не взаимные"
	sheetFollowers = "Подписчики"
	sheetFollowing = "Подписки"
)

// Renderer produces the downloadable artifact summarizing one job's
// results. Implemented by FileRenderer.
type Renderer interface {
	Render(jobID string, targetHandle string, followers, following, nonMutual []upstreamUser) (path string, sizeBytes int64, err error)
}

// upstreamUser is the narrow view render needs, satisfied by both
// upstream.ConnectionUser and db.NonMutualRecord-derived rows.
type upstreamUser struct {
	Handle   string
	FullName string
}

// FileRenderer writes a styled XLSX workbook to uploadDir, mirroring the
// three-sheet layout (non-mutual first, then the full followers/following
// lists with cross-reference marks).
type FileRenderer struct {
	uploadDir string
}

// NewFileRenderer constructs a FileRenderer rooted at uploadDir.
func NewFileRenderer(uploadDir string) *FileRenderer {
	return &FileRenderer{uploadDir: uploadDir}
}

var (
	headerFill  = &excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1}
	yesFill     = &excelize.Fill{Type: "pattern", Color: []string{"C6EFCE"}, Pattern: 1}
	noFill      = &excelize.Fill{Type: "pattern", Color: []string{"FFC7CE"}, Pattern: 1}
	thinBorders = []excelize.Border{
		{Type: "left", Style: 1, Color: "000000"},
		{Type: "right", Style: 1, Color: "000000"},
		{Type: "top", Style: 1, Color: "000000"},
		{Type: "bottom", Style: 1, Color: "000000"},
	}
)

// Render builds the workbook and saves it under uploadDir/<jobID>.xlsx.
func (r *FileRenderer) Render(jobID, targetHandle string, followers, following, nonMutual []upstreamUser) (string, int64, error) {
	if err := os.MkdirAll(r.uploadDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("creating upload dir: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	headerFont, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 14, Color: "FFFFFF"}, Fill: *headerFill, Border: thinBorders, Alignment: &excelize.Alignment{Horizontal: "center"}})
	titleStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 16}, Alignment: &excelize.Alignment{Horizontal: "center"}})
	boldStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	warnStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Color: "C00000"}})
	cellStyle, _ := f.NewStyle(&excelize.Style{Border: thinBorders, Alignment: &excelize.Alignment{Horizontal: "center"}})
	linkStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Color: "0563C1", Underline: "single"}, Border: thinBorders, Alignment: &excelize.Alignment{Horizontal: "center"}})
	yesStyle, _ := f.NewStyle(&excelize.Style{Fill: *yesFill, Border: thinBorders, Alignment: &excelize.Alignment{Horizontal: "center"}})
	noStyle, _ := f.NewStyle(&excelize.Style{Fill: *noFill, Border: thinBorders, Alignment: &excelize.Alignment{Horizontal: "center"}})

	f.SetSheetName("Sheet1", sheetNonMutual)
	writeNonMutualSheet(f, sheetNonMutual, targetHandle, followers, following, nonMutual, titleStyle, warnStyle, boldStyle, headerFont, cellStyle, linkStyle)

	f.NewSheet(sheetFollowers)
	writeConnectionSheet(f, sheetFollowers, fmt.Sprintf("👥 Все подписчики @%s", targetHandle),
		fmt.Sprintf("Всего подписчиков: %d", len(followers)),
		[]string{"#", "Username", "Имя", "Вы подписаны?", "Ссылка"},
		followers, indexHandles(following),
		titleStyle, boldStyle, headerFont, cellStyle, linkStyle, yesStyle, noStyle)

	f.NewSheet(sheetFollowing)
	writeConnectionSheet(f, sheetFollowing, fmt.Sprintf("📝 Все подписки @%s", targetHandle),
		fmt.Sprintf("Всего подписок: %d", len(following)),
		[]string{"#", "Username", "Имя", "Подписан на вас?", "Ссылка"},
		sortFollowingNonMutualFirst(following, indexHandles(followers)), indexHandles(followers),
		titleStyle, boldStyle, headerFont, cellStyle, linkStyle, yesStyle, noStyle)

	f.SetActiveSheet(0)

	path := filepath.Join(r.uploadDir, jobID+".xlsx")
	if err := f.SaveAs(path); err != nil {
		return "", 0, fmt.Errorf("saving workbook: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", 0, fmt.Errorf("stat-ing saved workbook: %w", err)
	}
	return path, info.Size(), nil
}

func indexHandles(users []upstreamUser) map[string]bool {
	set := make(map[string]bool, len(users))
	for _, u := range users {
		set[strings.ToLower(u.Handle)] = true
	}
	return set
}

func sortFollowingNonMutualFirst(following []upstreamUser, followerSet map[string]bool) []upstreamUser {
	out := append([]upstreamUser(nil), following...)
	sort.Slice(out, func(i, j int) bool {
		iIn, jIn := followerSet[strings.ToLower(out[i].Handle)], followerSet[strings.ToLower(out[j].Handle)]
		if iIn != jIn {
			return !iIn && jIn
		}
		return strings.ToLower(out[i].Handle) < strings.ToLower(out[j].Handle)
	})
	return out
}

func writeNonMutualSheet(f *excelize.File, sheet, target string, followers, following, nonMutual []upstreamUser, titleStyle, warnStyle, boldStyle, headerFont, cellStyle, linkStyle int) {
	f.MergeCell(sheet, "A1", "E1")
	f.SetCellValue(sheet, "A1", fmt.Sprintf("❌ Не взаимные подписки @%s", target))
	f.SetCellStyle(sheet, "A1", "A1", titleStyle)

	mutualPercent := 0.0
	if len(following) > 0 {
		mutualPercent = float64(len(following)-len(nonMutual)) / float64(len(following)) * 100
	}

	stats := [][2]string{
		{"Дата анализа:", time.Now().Format("2006-01-02 15:04")},
		{"Всего подписчиков:", fmt.Sprintf("%d", len(followers))},
		{"Всего подписок:", fmt.Sprintf("%d", len(following))},
		{"Не взаимных:", fmt.Sprintf("%d", len(nonMutual))},
		{"Процент взаимности:", fmt.Sprintf("%.1f%%", mutualPercent)},
	}
	for i, kv := range stats {
		row := 3 + i
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), kv[0])
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), kv[1])
		f.SetCellStyle(sheet, fmt.Sprintf("A%d", row), fmt.Sprintf("A%d", row), boldStyle)
	}

	f.SetCellValue(sheet, "A9", fmt.Sprintf("⚠️ Вы подписаны на %d аккаунтов, которые НЕ подписаны на вас", len(nonMutual)))
	f.SetCellStyle(sheet, "A9", "A9", warnStyle)

	headers := []string{"#", "Username", "Имя", "Ссылка"}
	for col, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 11)
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, headerFont)
	}

	for idx, u := range nonMutual {
		row := 11 + idx + 1
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), idx+1)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), u.Handle)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", row), u.FullName)
		linkCell := fmt.Sprintf("D%d", row)
		f.SetCellValue(sheet, linkCell, "Открыть")
		f.SetCellHyperLink(sheet, linkCell, "https://instagram.com/"+u.Handle, "External")
		f.SetCellStyle(sheet, fmt.Sprintf("A%d", row), fmt.Sprintf("C%d", row), cellStyle)
		f.SetCellStyle(sheet, linkCell, linkCell, linkStyle)
	}

	f.SetColWidth(sheet, "A", "A", 6)
	f.SetColWidth(sheet, "B", "B", 25)
	f.SetColWidth(sheet, "C", "C", 30)
	f.SetColWidth(sheet, "D", "D", 12)
}

func writeConnectionSheet(f *excelize.File, sheet, title, subtitle string, headers []string, users []upstreamUser, otherSet map[string]bool,
	titleStyle, boldStyle, headerFont, cellStyle, linkStyle, yesStyle, noStyle int) {
	f.MergeCell(sheet, "A1", "E1")
	f.SetCellValue(sheet, "A1", title)
	f.SetCellStyle(sheet, "A1", "A1", titleStyle)

	f.SetCellValue(sheet, "A3", subtitle)
	f.SetCellStyle(sheet, "A3", "A3", boldStyle)

	for col, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 5)
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, headerFont)
	}

	for idx, u := range users {
		row := 5 + idx + 1
		matched := otherSet[strings.ToLower(u.Handle)]
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), idx+1)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), u.Handle)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", row), u.FullName)

		markCell := fmt.Sprintf("D%d", row)
		mark := "✗"
		style := noStyle
		if matched {
			mark = "✓"
			style = yesStyle
		}
		f.SetCellValue(sheet, markCell, mark)
		f.SetCellStyle(sheet, markCell, markCell, style)

		linkCell := fmt.Sprintf("E%d", row)
		f.SetCellValue(sheet, linkCell, "Открыть")
		f.SetCellHyperLink(sheet, linkCell, "https://instagram.com/"+u.Handle, "External")
		f.SetCellStyle(sheet, fmt.Sprintf("A%d", row), fmt.Sprintf("C%d", row), cellStyle)
		f.SetCellStyle(sheet, linkCell, linkCell, linkStyle)
	}

	f.SetColWidth(sheet, "A", "A", 6)
	f.SetColWidth(sheet, "B", "B", 25)
	f.SetColWidth(sheet, "C", "C", 30)
	f.SetColWidth(sheet, "D", "D", 16)
	f.SetColWidth(sheet, "E", "E", 12)
}
