// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FeedFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsreader_feed_fetches_total",
		Help: "Feed fetches by outcome (ok, http_error, parse_error, network_error)",
	}, []string{"outcome"})

	ArticlesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "newsreader_articles_ingested_total",
		Help: "Articles mapped from feeds and written to the store",
	})

	ItemsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "newsreader_feed_items_dropped_total",
		Help: "Feed items dropped during mapping",
	})

	ExtractionAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "newsreader_extraction_attempts_total",
		Help: "Page fetch attempts made by the content extractor",
	})

	Extractions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsreader_extractions_total",
		Help: "Full-text extractions by result (primary, fallback, readability, absent)",
	}, []string{"result"})

	PlaybackTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsreader_playback_transitions_total",
		Help: "Playback state transitions by target status",
	}, []string{"status"})

	Utterances = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsreader_speech_utterances_total",
		Help: "Speech engine utterance events by kind (start, done, error)",
	}, []string{"event"})
)
