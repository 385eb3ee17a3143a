// Package categorize is a downstream consumer of the prime table: it labels
// clusters and records as subscription, recurring or one-time based on
// amount and date patterns. It reads only cluster assignments plus each
// record's own numeric/date passthrough fields; the matching core never
// depends on it.
package categorize

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/specific-affinity/affinity/internal/engine"
)

// Category labels a cluster's or record's payment pattern.
type Category string

const (
	// CategorySubscription is a regular cadence with consistent amounts.
	CategorySubscription Category = "subscription"
	// CategoryRecurring is a regular cadence with varying amounts.
	CategoryRecurring Category = "recurring"
	// CategoryOneTime is anything without a regular cadence.
	CategoryOneTime Category = "one_time"
)

// Options configure categorization. AmountField and DateField name the
// passthrough attributes to read; both are required. GroupField optionally
// partitions cadence analysis (e.g. per customer).
type Options struct {
	AmountField string
	DateField   string
	GroupField  string

	// AmountTolerancePct is the percentage difference under which two
	// consecutive amounts count as "the same" (default 5).
	AmountTolerancePct float64
	// DateToleranceDays is the day slack around the cluster's dominant
	// cadence (default 3).
	DateToleranceDays int
}

func (o Options) withDefaults() Options {
	if o.AmountTolerancePct <= 0 {
		o.AmountTolerancePct = 5
	}
	if o.DateToleranceDays <= 0 {
		o.DateToleranceDays = 3
	}
	return o
}

// ClusterProfile summarizes the pattern observed in one cluster.
type ClusterProfile struct {
	ClusterID       int64
	RecordCount     int
	GroupCount      int
	AvgAmount       float64
	AmountCV        float64 // coefficient of variation of amounts
	DominantGapDays int     // most common gap between consecutive dated records
	DateCV          float64 // coefficient of variation of gaps
	Category        Category
}

// RecordLabel is the per-record categorization.
type RecordLabel struct {
	RecordID  int64
	ClusterID int64
	Category  Category
}

// Summary aggregates a categorization pass.
type Summary struct {
	ClustersByCategory map[Category]int
	RecordsByCategory  map[Category]int
}

type observation struct {
	recordID int64
	group    string
	amount   float64
	date     time.Time
}

// Run analyzes every cluster in the prime table and labels clusters and
// records. Records without a cluster, or whose amount/date attributes fail
// to parse, are skipped.
func Run(pt *engine.PrimeTable, opts Options) ([]ClusterProfile, []RecordLabel, Summary, error) {
	if opts.AmountField == "" || opts.DateField == "" {
		return nil, nil, Summary{}, fmt.Errorf("categorize: amount and date field names are required")
	}
	opts = opts.withDefaults()

	byCluster := make(map[int64][]observation)
	for id, cid := range pt.Assignments {
		rec, ok := pt.Records[id]
		if !ok {
			continue
		}
		obs, err := parseObservation(rec, opts)
		if err != nil {
			continue
		}
		byCluster[cid] = append(byCluster[cid], obs)
	}

	clusterIDs := make([]int64, 0, len(byCluster))
	for cid := range byCluster {
		clusterIDs = append(clusterIDs, cid)
	}
	sort.Slice(clusterIDs, func(i, j int) bool { return clusterIDs[i] < clusterIDs[j] })

	var profiles []ClusterProfile
	var labels []RecordLabel
	summary := Summary{
		ClustersByCategory: make(map[Category]int),
		RecordsByCategory:  make(map[Category]int),
	}

	for _, cid := range clusterIDs {
		obs := byCluster[cid]
		profile := profileCluster(cid, obs, opts)
		profiles = append(profiles, profile)
		summary.ClustersByCategory[profile.Category]++

		for _, label := range labelRecords(profile, obs, opts) {
			labels = append(labels, label)
			summary.RecordsByCategory[label.Category]++
		}
	}
	return profiles, labels, summary, nil
}

func parseObservation(rec engine.Record, opts Options) (observation, error) {
	obs := observation{recordID: rec.ID, group: "default"}
	if opts.GroupField != "" {
		if g := rec.Attr(opts.GroupField); g != "" {
			obs.group = g
		}
	}

	amount, err := parseAmount(rec.Attr(opts.AmountField))
	if err != nil {
		return obs, err
	}
	obs.amount = amount

	date, err := parseDate(rec.Attr(opts.DateField))
	if err != nil {
		return obs, err
	}
	obs.date = date
	return obs, nil
}

func profileCluster(cid int64, obs []observation, opts Options) ClusterProfile {
	p := ClusterProfile{ClusterID: cid, RecordCount: len(obs)}

	groups := make(map[string][]observation)
	var amounts []float64
	for _, o := range obs {
		groups[o.group] = append(groups[o.group], o)
		amounts = append(amounts, o.amount)
	}
	p.GroupCount = len(groups)

	mean, cv := meanAndCV(amounts)
	p.AvgAmount = mean
	p.AmountCV = cv

	// Day gaps between consecutive dated records, per group.
	var gaps []float64
	for _, g := range groups {
		sort.Slice(g, func(i, j int) bool { return g[i].date.Before(g[j].date) })
		for i := 1; i < len(g); i++ {
			days := g[i].date.Sub(g[i-1].date).Hours() / 24
			if days > 0 {
				gaps = append(gaps, days)
			}
		}
	}
	p.DominantGapDays = dominantGap(gaps)
	_, p.DateCV = meanAndCV(gaps)

	p.Category = classify(p)
	return p
}

func classify(p ClusterProfile) Category {
	regular := p.DominantGapDays >= 7 && p.DominantGapDays <= 35
	switch {
	case regular && (p.AmountCV < 0.1 || p.RecordCount < 3) && p.DateCV < 0.3:
		return CategorySubscription
	case regular && p.DateCV < 0.3:
		return CategoryRecurring
	default:
		return CategoryOneTime
	}
}

// labelRecords assigns each record its own category: the first record in a
// group inherits the cluster default; later ones are judged against the
// cluster's dominant cadence and their predecessor's amount.
func labelRecords(p ClusterProfile, obs []observation, opts Options) []RecordLabel {
	groups := make(map[string][]observation)
	for _, o := range obs {
		groups[o.group] = append(groups[o.group], o)
	}

	var labels []RecordLabel
	for _, g := range groups {
		sort.Slice(g, func(i, j int) bool { return g[i].date.Before(g[j].date) })
		for i, o := range g {
			label := RecordLabel{RecordID: o.recordID, ClusterID: p.ClusterID}
			if i == 0 {
				label.Category = p.Category
				labels = append(labels, label)
				continue
			}

			prev := g[i-1]
			gap := o.date.Sub(prev.date).Hours() / 24
			onCadence := p.DominantGapDays > 0 &&
				math.Abs(gap-float64(p.DominantGapDays)) <= float64(opts.DateToleranceDays)
			sameAmount := prev.amount != 0 &&
				math.Abs(o.amount-prev.amount)*100/math.Abs(prev.amount) <= opts.AmountTolerancePct

			switch {
			case onCadence && (o.amount == prev.amount || sameAmount):
				label.Category = CategorySubscription
			case onCadence:
				label.Category = CategoryRecurring
			default:
				label.Category = CategoryOneTime
			}
			labels = append(labels, label)
		}
	}

	sort.Slice(labels, func(i, j int) bool { return labels[i].RecordID < labels[j].RecordID })
	return labels
}

func meanAndCV(values []float64) (mean, cv float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))

	if len(values) < 2 || mean == 0 {
		return mean, 0
	}
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	stddev := math.Sqrt(sq / float64(len(values)-1))
	return mean, stddev / math.Abs(mean)
}

// dominantGap returns the most common gap rounded to whole days, ties to
// the smaller gap.
func dominantGap(gaps []float64) int {
	if len(gaps) == 0 {
		return 0
	}
	counts := make(map[int]int)
	for _, g := range gaps {
		counts[int(math.Round(g))]++
	}

	best, bestCount := 0, 0
	for gap, count := range counts {
		if count > bestCount || (count == bestCount && gap < best) {
			best, bestCount = gap, count
		}
	}
	return best
}

func parseAmount(raw string) (float64, error) {
	if raw == "" {
		return 0, fmt.Errorf("empty amount")
	}
	amount, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return amount, nil
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05", "02/01/2006"}

func parseDate(raw string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", raw)
}
