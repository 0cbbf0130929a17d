package services

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"idx-pipeline/models"
	"idx-pipeline/utils"
)

type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

// Generate summarizes the catalog. Price statistics only use priced,
// non-synthetic entries.
func (s *InsightService) Generate(entries []*models.CatalogEntry) *models.CatalogReport {
	report := &models.CatalogReport{
		BySource:      make(map[models.Source]int),
		EntriesByCity: make(map[string]int),
	}

	if len(entries) == 0 {
		return report
	}

	report.TotalEntries = len(entries)

	var priced []*models.CatalogEntry
	for _, e := range entries {
		report.BySource[e.Source]++
		if e.Source.Synthetic() {
			report.Synthetic++
		} else {
			report.RealEntries++
			if e.Price > 0 {
				priced = append(priced, e)
			}
		}
		if city := models.ParseCity(e.Address); city != "" {
			report.EntriesByCity[city]++
		}
	}

	// Price stats (real entries with price > 0)
	if len(priced) > 0 {
		report.MinPrice = priced[0].Price
		report.MaxPrice = priced[0].Price
		report.MostExpensive = priced[0]
		var total int64
		for _, e := range priced {
			total += e.Price
			if e.Price < report.MinPrice {
				report.MinPrice = e.Price
			}
			if e.Price > report.MaxPrice {
				report.MaxPrice = e.Price
				report.MostExpensive = e
			}
		}
		report.AveragePrice = round2(float64(total) / float64(len(priced)))
	}

	s.logger.Debug("[insights] %d entries, %d synthetic", report.TotalEntries, report.Synthetic)
	return report
}

func (s *InsightService) Print(w io.Writer, r *models.CatalogReport) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  📊 PROPERTY CATALOG REPORT\033[0m\n")
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	// Overview
	fmt.Fprintf(w, "\033[1;33m  Overview\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Total entries     : \033[1m%d\033[0m\n", r.TotalEntries)
	fmt.Fprintf(w, "  Observed entries  : \033[1m%d\033[0m\n", r.RealEntries)
	fmt.Fprintf(w, "  Estimated entries : \033[1m%d\033[0m\n", r.Synthetic)
	sources := make([]string, 0, len(r.BySource))
	for src := range r.BySource {
		sources = append(sources, string(src))
	}
	sort.Strings(sources)
	for _, src := range sources {
		fmt.Fprintf(w, "    %-15s : %d\n", src, r.BySource[models.Source(src)])
	}
	fmt.Fprintln(w)

	// Price Stats
	fmt.Fprintf(w, "\033[1;33m  Price Statistics (observed entries)\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if r.AveragePrice > 0 {
		fmt.Fprintf(w, "  Average price : \033[1;32m$%.2f\033[0m\n", r.AveragePrice)
		fmt.Fprintf(w, "  Minimum price : \033[1;32m$%d\033[0m\n", r.MinPrice)
		fmt.Fprintf(w, "  Maximum price : \033[1;32m$%d\033[0m\n", r.MaxPrice)
	} else {
		fmt.Fprintf(w, "  No price data available\n")
	}
	fmt.Fprintln(w)

	// Most Expensive
	if r.MostExpensive != nil {
		fmt.Fprintf(w, "\033[1;33m  Most Expensive Property\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		fmt.Fprintf(w, "  %s\n", truncate(r.MostExpensive.Address, 50))
		if r.MostExpensive.MLSID != "" {
			fmt.Fprintf(w, "  MLS   : %s\n", r.MostExpensive.MLSID)
		}
		fmt.Fprintf(w, "  Price : \033[1;31m$%d\033[0m\n", r.MostExpensive.Price)
		fmt.Fprintln(w)
	}

	// Entries by City
	fmt.Fprintf(w, "\033[1;33m  Entries by City\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.EntriesByCity) == 0 {
		fmt.Fprintf(w, "  No city data\n")
	} else {
		type cityCount struct {
			city  string
			count int
		}
		var cities []cityCount
		for city, cnt := range r.EntriesByCity {
			cities = append(cities, cityCount{city, cnt})
		}
		sort.Slice(cities, func(i, j int) bool {
			if cities[i].count == cities[j].count {
				return cities[i].city < cities[j].city
			}
			return cities[i].count > cities[j].count
		})
		for _, cc := range cities {
			bar := strings.Repeat("█", cc.count)
			fmt.Fprintf(w, "  %-30s %s (%d)\n", truncate(cc.city, 28), bar, cc.count)
		}
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
