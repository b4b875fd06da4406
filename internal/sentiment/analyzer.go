// Package sentiment scores market chatter. The analyzer is a pure keyword
// counter: no model, no network, deterministic output for a given input.
package sentiment

import (
	"regexp"
	"strings"

	"github.com/akaravas/hypetrader/internal/domain"
)

var bullishWords = []string{
	"moon", "rocket", "buy", "calls", "squeeze", "pump", "long",
	"tendies", "gains", "yolo", "diamond hands", "hodl", "bull",
	"breakout", "mooning", "printing", "green", "bullish", "up",
}

var bearishWords = []string{
	"puts", "short", "sell", "dump", "crash", "drill", "tank",
	"bear", "red", "down", "loss", "bearish", "overvalued",
	"bubble", "correction", "decline", "fall", "drop", "rip",
}

// commonWords are uppercase tokens that match the ticker pattern but are
// ordinary English words, not symbols.
var commonWords = map[string]struct{}{
	"THE": {}, "AND": {}, "OR": {}, "BUT": {}, "IN": {}, "ON": {}, "AT": {},
	"TO": {}, "FOR": {}, "OF": {}, "UP": {}, "IT": {}, "IS": {}, "BE": {},
	"AS": {}, "SO": {}, "IF": {}, "NO": {}, "NOT": {}, "ALL": {}, "CAN": {},
	"HER": {}, "WAS": {}, "ONE": {}, "OUR": {}, "OUT": {}, "DAY": {},
	"GET": {}, "HAS": {}, "HIM": {}, "HIS": {}, "HOW": {}, "ITS": {},
	"MAY": {}, "NEW": {}, "NOW": {}, "OLD": {}, "SEE": {}, "TWO": {},
	"WAY": {}, "WHO": {}, "BOY": {}, "DID": {}, "LET": {}, "PUT": {},
	"SAY": {}, "SHE": {}, "TOO": {}, "USE": {},
}

// TextAnalysis is the sentiment read of a single text.
type TextAnalysis struct {
	Score        float64 // (bullish - bearish) / total, 0 when no keywords hit
	BullishCount int
	BearishCount int
	Tickers      []string
}

// Analyzer extracts tickers and scores bullish vs bearish keyword usage.
type Analyzer struct {
	tickerPattern *regexp.Regexp
	bullish       map[string]struct{}
	bearish       map[string]struct{}
}

// NewAnalyzer creates a keyword sentiment analyzer.
func NewAnalyzer() *Analyzer {
	a := &Analyzer{
		tickerPattern: regexp.MustCompile(`\b[A-Z]{2,5}\b`),
		bullish:       make(map[string]struct{}, len(bullishWords)),
		bearish:       make(map[string]struct{}, len(bearishWords)),
	}
	for _, w := range bullishWords {
		a.bullish[strings.ToLower(w)] = struct{}{}
	}
	for _, w := range bearishWords {
		a.bearish[strings.ToLower(w)] = struct{}{}
	}
	return a
}

// AnalyzeText scores one text and extracts candidate tickers.
func (a *Analyzer) AnalyzeText(text string) TextAnalysis {
	lower := strings.ToLower(text)

	var bullish, bearish int
	for word := range a.bullish {
		if strings.Contains(lower, word) {
			bullish++
		}
	}
	for word := range a.bearish {
		if strings.Contains(lower, word) {
			bearish++
		}
	}

	var score float64
	if total := bullish + bearish; total > 0 {
		score = float64(bullish-bearish) / float64(total)
	}

	return TextAnalysis{
		Score:        score,
		BullishCount: bullish,
		BearishCount: bearish,
		Tickers:      a.ExtractTickers(text),
	}
}

// ExtractTickers returns the uppercase tokens in text that look like symbols.
func (a *Analyzer) ExtractTickers(text string) []string {
	candidates := a.tickerPattern.FindAllString(text, -1)
	tickers := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if _, common := commonWords[c]; !common {
			tickers = append(tickers, c)
		}
	}
	return tickers
}

// AggregateSentiment folds the per-text scores into one SentimentScore per
// ticker: mean text score, total mention count, and bullish/bearish splits.
func (a *Analyzer) AggregateSentiment(texts []string) map[string]domain.SentimentScore {
	type accum struct {
		total   float64
		count   int
		bullish int
		bearish int
	}
	acc := make(map[string]*accum)

	for _, text := range texts {
		analysis := a.AnalyzeText(text)
		for _, ticker := range analysis.Tickers {
			entry, ok := acc[ticker]
			if !ok {
				entry = &accum{}
				acc[ticker] = entry
			}
			entry.total += analysis.Score
			entry.count++
			if analysis.Score > 0 {
				entry.bullish++
			} else if analysis.Score < 0 {
				entry.bearish++
			}
		}
	}

	results := make(map[string]domain.SentimentScore, len(acc))
	for ticker, entry := range acc {
		if entry.count == 0 {
			continue
		}
		results[ticker] = domain.SentimentScore{
			Sentiment:       entry.total / float64(entry.count),
			Mentions:        entry.count,
			BullishMentions: entry.bullish,
			BearishMentions: entry.bearish,
		}
	}
	return results
}
