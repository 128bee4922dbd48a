package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kass/geo-compliance/pkg/batch"
	"github.com/kass/geo-compliance/pkg/compliance"
	"github.com/kass/geo-compliance/pkg/geom"
	"github.com/kass/geo-compliance/pkg/models"
	"github.com/kass/geo-compliance/pkg/risk"
	"github.com/kass/geo-compliance/pkg/rtree"
)

const (
	indexFile  = "plot_index.gob"
	demoRegion = "demo-region"
	demoPlots  = 50000
)

var (
	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF79C6")).
			Background(lipgloss.Color("#282A36")).
			Padding(0, 1).
			MarginTop(1).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#8BE9FD"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#50FA7B"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5555"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F1FA8C"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6272A4"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#BD93F9")).
			Padding(1, 2).
			MarginTop(1).
			MarginBottom(1)

	statStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFB86C"))
)

type stage int

const (
	stageIndexing stage = iota
	stageIndexComplete
	stageEvaluating
	stageEvaluateComplete
	stageDone
)

type model struct {
	stage           stage
	spinner         spinner.Model
	progress        progress.Model
	progressPercent float64

	// Indexing stats
	indexStats indexResult

	// Evaluation stats
	evalStats evalResult

	// Messages
	messages []string
	width    int
	height   int
}

type indexResult struct {
	boundaries int64
	duration   time.Duration
}

type evalResult struct {
	summary  models.BatchSummary
	duration time.Duration
	plotsSec float64
	alerts   int
}

type progressMsg float64
type stageCompleteMsg struct {
	stage stage
	stats interface{}
}
type messageMsg string

func initialModel() model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF79C6"))

	p := progress.New(progress.WithDefaultGradient())

	return model{
		stage:    stageIndexing,
		spinner:  s,
		progress: p,
		messages: []string{},
		width:    80,
		height:   24,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		runDemo(),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = msg.Width - 10
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		return m, cmd

	case progressMsg:
		m.progressPercent = float64(msg)
		return m, m.progress.SetPercent(float64(msg))

	case messageMsg:
		m.messages = append(m.messages, string(msg))
		if len(m.messages) > 5 {
			m.messages = m.messages[1:]
		}
		return m, nil

	case stageCompleteMsg:
		switch msg.stage {
		case stageIndexing:
			if stats, ok := msg.stats.(indexResult); ok {
				m.indexStats = stats
			}
			m.stage = stageIndexComplete
		case stageEvaluating:
			if stats, ok := msg.stats.(evalResult); ok {
				m.evalStats = stats
			}
			m.stage = stageEvaluateComplete
		}

		// Auto-advance to next stage
		if m.stage < stageDone {
			return m, tea.Tick(time.Second, func(t time.Time) tea.Msg {
				m.stage++
				return nil
			})
		}
		return m, nil
	}

	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("🛰  Boundary Compliance Demo"))
	b.WriteString("\n\n")

	switch m.stage {
	case stageIndexing:
		b.WriteString(subtitleStyle.Render("Indexing Plot Boundaries"))
		b.WriteString("\n\n")
		b.WriteString(m.spinner.View() + fmt.Sprintf(" Indexing %d plot boundaries...\n\n", demoPlots))
		b.WriteString(m.progress.ViewAs(m.progressPercent))

	case stageIndexComplete:
		b.WriteString(renderIndexStats(m.indexStats))

	case stageEvaluating:
		b.WriteString(subtitleStyle.Render("Evaluating Compliance"))
		b.WriteString("\n\n")
		b.WriteString(m.spinner.View() + fmt.Sprintf(" Evaluating %d plots against allotted boundaries...\n\n", demoPlots))
		b.WriteString(m.progress.ViewAs(m.progressPercent))

	case stageEvaluateComplete, stageDone:
		b.WriteString(renderReport(m))
	}

	// Show recent messages
	if len(m.messages) > 0 {
		b.WriteString("\n\n")
		b.WriteString(dimStyle.Render("Recent activity:"))
		b.WriteString("\n")
		for _, msg := range m.messages {
			b.WriteString(dimStyle.Render("• " + msg))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n\n")
	b.WriteString(dimStyle.Render("Press 'q' to quit"))

	return b.String()
}

func renderIndexStats(stats indexResult) string {
	content := fmt.Sprintf(
		"✓ Indexed %s boundaries in %s\n"+
			"✓ Boundaries per second: %s\n"+
			"✓ Index saved to %s",
		statStyle.Render(fmt.Sprintf("%d", stats.boundaries)),
		statStyle.Render(stats.duration.String()),
		statStyle.Render(fmt.Sprintf("%.0f", float64(stats.boundaries)/stats.duration.Seconds())),
		statStyle.Render(indexFile),
	)

	return boxStyle.Render(successStyle.Render("Indexing Complete!\n\n") + content)
}

func renderReport(m model) string {
	s := m.evalStats.summary

	report := subtitleStyle.Render(fmt.Sprintf("Region %s Compliance Report", s.RegionID))
	report += "\n"

	verdictLines := []string{
		fmt.Sprintf("Perfect compliance:  %s", statStyle.Render(fmt.Sprintf("%d", s.VerdictCounts[models.VerdictPerfectCompliance]))),
		fmt.Sprintf("Within tolerance:    %s", statStyle.Render(fmt.Sprintf("%d", s.VerdictCounts[models.VerdictWithinTolerance]))),
		fmt.Sprintf("Violations:          %s", warnStyle.Render(fmt.Sprintf("%d", s.VerdictCounts[models.VerdictViolation]))),
		fmt.Sprintf("Vacant:              %s", statStyle.Render(fmt.Sprintf("%d", s.VerdictCounts[models.VerdictVacant]))),
		fmt.Sprintf("Invalid geometry:    %s", statStyle.Render(fmt.Sprintf("%d", s.Invalid))),
	}

	report += boxStyle.Render(
		infoStyle.Render("Verdicts:\n\n") + strings.Join(verdictLines, "\n"))
	report += "\n"

	categoryStyle := successStyle
	if s.Category != models.CategoryCompliant {
		categoryStyle = warnStyle
	}

	report += boxStyle.Render(
		infoStyle.Render("Rollup:\n\n") +
			fmt.Sprintf("Total encroachment:  %s\n", statStyle.Render(fmt.Sprintf("%.1f m2", s.TotalEncroachmentSqm))) +
			fmt.Sprintf("Average IoU:         %s\n", statStyle.Render(fmt.Sprintf("%.3f", s.AvgIoU))) +
			fmt.Sprintf("Average risk:        %s\n", statStyle.Render(fmt.Sprintf("%.3f", s.AvgRiskScore))) +
			fmt.Sprintf("High-severity alerts: %s\n", warnStyle.Render(fmt.Sprintf("%d", m.evalStats.alerts))) +
			fmt.Sprintf("Compliance score:    %s (%s)", statStyle.Render(fmt.Sprintf("%.1f", s.ComplianceScore)), categoryStyle.Render(string(s.Category))))
	report += "\n"

	report += successStyle.Render(fmt.Sprintf("Evaluated %d plots in %s (%.0f plots/sec, %d workers)",
		s.TotalPlots, m.evalStats.duration, m.evalStats.plotsSec, runtime.NumCPU()))

	return report
}

func runDemo() tea.Cmd {
	return func() tea.Msg {
		// Run the actual demo in the background
		go executeDemo()
		return nil
	}
}

var program *tea.Program

func executeDemo() {
	plots := generatePlots(demoPlots)

	indexBoundaries(plots)

	time.Sleep(500 * time.Millisecond)
	evaluateRegion(plots)
}

func indexBoundaries(plots []batch.Plot) {
	numWorkers := runtime.NumCPU()

	index := rtree.NewPlotIndex()
	boundaries := make([]*models.AllotmentBoundary, len(plots))
	for i := range plots {
		boundaries[i] = &plots[i].Boundary
	}

	start := time.Now()

	batchSize := len(boundaries) / numWorkers
	if batchSize < 1 {
		batchSize = 1
	}

	var wg sync.WaitGroup
	var indexed atomic.Int32

	// Progress updater
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		for range ticker.C {
			program.Send(progressMsg(float64(indexed.Load()) / float64(len(boundaries))))

			if indexed.Load() >= int32(len(boundaries)) {
				break
			}
		}
	}()

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		startIdx := i * batchSize
		endIdx := startIdx + batchSize
		if i == numWorkers-1 {
			endIdx = len(boundaries)
		}

		go func(chunk []*models.AllotmentBoundary) {
			defer wg.Done()
			index.IndexBoundaries(chunk)
			indexed.Add(int32(len(chunk)))
		}(boundaries[startIdx:endIdx])
	}

	wg.Wait()
	elapsed := time.Since(start)

	if err := index.SaveToFile(indexFile); err != nil {
		program.Send(messageMsg(fmt.Sprintf("Error saving index: %v", err)))
	}

	program.Send(stageCompleteMsg{
		stage: stageIndexing,
		stats: indexResult{
			boundaries: index.Size(),
			duration:   elapsed,
		},
	})
}

func evaluateRegion(plots []batch.Plot) {
	proj, err := geom.NewProjection(43, false)
	if err != nil {
		program.Send(messageMsg(fmt.Sprintf("Projection error: %v", err)))
		return
	}

	evaluator, err := batch.NewEvaluator(&sliceSource{plots: plots}, batch.Config{
		Projection:        proj,
		ObservationSource: "sentinel2",
		Tolerances:        compliance.DefaultTolerances(),
		Weights:           risk.DefaultWeights(),
	})
	if err != nil {
		program.Send(messageMsg(fmt.Sprintf("Evaluator error: %v", err)))
		return
	}

	start := time.Now()
	results, errc := evaluator.EvaluateRegion(context.Background(), demoRegion)

	var done atomic.Int32
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		for range ticker.C {
			program.Send(progressMsg(float64(done.Load()) / float64(len(plots))))

			if done.Load() >= int32(len(plots)) {
				break
			}
		}
	}()

	var collected []models.ComplianceResult
	var alerts int
	for res := range results {
		done.Add(1)
		collected = append(collected, res)
		if res.Verdict == models.VerdictViolation &&
			models.SeverityRank(res.Severity) >= models.SeverityRank(models.SeverityHigh) {
			alerts++
		}
	}
	if err := <-errc; err != nil {
		program.Send(messageMsg(fmt.Sprintf("Evaluation error: %v", err)))
		return
	}
	elapsed := time.Since(start)

	program.Send(stageCompleteMsg{
		stage: stageEvaluating,
		stats: evalResult{
			summary:  batch.Summarize(demoRegion, collected),
			duration: elapsed,
			plotsSec: float64(len(collected)) / elapsed.Seconds(),
			alerts:   alerts,
		},
	})
}

type sliceSource struct {
	plots []batch.Plot
}

func (s *sliceSource) RegionPlots(ctx context.Context, regionID string) ([]batch.Plot, error) {
	return s.plots, nil
}

// generatePlots lays plots on a grid near 26.9N 75.8E: most footprints fit
// inside their boundary, some encroach past an edge, some plots are vacant.
func generatePlots(n int) []batch.Plot {
	plots := make([]batch.Plot, n)

	numWorkers := runtime.NumCPU()
	batchSize := n / numWorkers
	if batchSize < 1 {
		batchSize = 1
		numWorkers = n
	}
	var wg sync.WaitGroup

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		startIdx := w * batchSize
		endIdx := startIdx + batchSize
		if w == numWorkers-1 {
			endIdx = n
		}

		go func(start, end int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(start)))

			for i := start; i < end; i++ {
				lat := 26.9 + float64(i/200)*0.002
				lon := 75.8 + float64(i%200)*0.002
				sizeDeg := 0.0009

				plot := batch.Plot{
					Boundary: models.AllotmentBoundary{
						PlotID:    fmt.Sprintf("plot_%d", i),
						Polygon:   rectangle(lat, lon, sizeDeg, sizeDeg),
						Source:    models.SourceSurvey,
						AccuracyM: 0.1,
						Version:   1,
						Active:    true,
					},
				}

				roll := r.Float64()
				switch {
				case roll < 0.10:
					plot.Context.MonthsVacant = float64(r.Intn(48))
				case roll < 0.25:
					shift := (0.2 + r.Float64()*0.4) * sizeDeg
					plot.Footprint = footprintFor(&plot.Boundary, rectangle(lat, lon+shift, sizeDeg, sizeDeg), r)
					plot.Context.TrendSlopePerMonth = r.Float64() * 20
					plot.Context.ObservedMonths = 6 + r.Float64()*18
				default:
					inset := 0.9 + r.Float64()*0.08
					plot.Footprint = footprintFor(&plot.Boundary, rectangle(lat, lon, sizeDeg*inset, sizeDeg*inset), r)
				}

				plots[i] = plot
			}
		}(startIdx, endIdx)
	}

	wg.Wait()
	return plots
}

func rectangle(centerLat, centerLon, halfLatDeg, halfLonDeg float64) models.Polygon {
	return models.Polygon{Exterior: models.Ring{
		{Lat: centerLat - halfLatDeg, Lon: centerLon - halfLonDeg},
		{Lat: centerLat - halfLatDeg, Lon: centerLon + halfLonDeg},
		{Lat: centerLat + halfLatDeg, Lon: centerLon + halfLonDeg},
		{Lat: centerLat + halfLatDeg, Lon: centerLon - halfLonDeg},
		{Lat: centerLat - halfLatDeg, Lon: centerLon - halfLonDeg},
	}}
}

func footprintFor(b *models.AllotmentBoundary, poly models.Polygon, r *rand.Rand) *models.DetectedFootprint {
	return &models.DetectedFootprint{
		PlotID:     b.PlotID,
		Polygon:    poly,
		Confidence: 0.7 + r.Float64()*0.3,
		ClassLabel: "industrial",
		ObservedAt: time.Now().AddDate(0, -r.Intn(3), 0),
	}
}

func main() {
	program = tea.NewProgram(initialModel())

	if err := program.Start(); err != nil {
		log.Fatal(err)
	}
}
