package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/ternarybob/carextract/internal/services/browser"
	"github.com/ternarybob/carextract/internal/services/discovery"
	"github.com/ternarybob/carextract/internal/services/orchestrator"
)

var probeListingFile string

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Load the listing page and print the report links it holds",
	Long: `Loads the listing page the same way a run does and prints the discovered report
links, without opening any report window. Use it to check the login profile and the
report pattern when a run finds nothing.`,
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().StringVar(&probeListingFile, "listing-file", "", "Read the listing page from a saved HTML file")
}

func runProbe(cmd *cobra.Command, args []string) error {
	discoverer, err := discovery.NewDiscoverer(config.Listing.ReportPattern, logger)
	if err != nil {
		return err
	}

	var source orchestrator.ListingSource
	if probeListingFile != "" {
		source = browser.FileListing{Path: probeListingFile, BaseURL: config.Listing.URL}
	} else {
		chrome := browser.NewService(&config.Browser, &config.Listing, logger)
		defer chrome.Shutdown()
		// Fail on a broken Chrome install before blaming the listing page
		if err := chrome.Init(cmd.Context()); err != nil {
			return err
		}
		source = chrome
	}

	html, pageURL, err := source.Listing(cmd.Context())
	if err != nil {
		return err
	}

	links, err := discoverer.Discover(html, pageURL)
	if err != nil {
		return err
	}

	fmt.Printf("Page: %s\n", pageURL)
	if len(links) == 0 {
		fmt.Println(orchestrator.NoWorkMessage)
		stats, err := discoverer.Inspect(html)
		if err != nil {
			return err
		}
		fmt.Printf("Title: %q, tables: %d, rows: %d, anchors: %d\n", stats.Title, stats.Tables, stats.Rows, stats.Anchors)
		fmt.Printf("Report ids in page text: %v\n", stats.MentionedIDs)
		for _, l := range stats.SampleLinks {
			fmt.Printf("  %s\n", l)
		}
		return nil
	}

	for i, link := range links {
		fmt.Printf("%3d  %-12s %s\n", i+1, link.ID, link.URL)
	}
	fmt.Printf("%d report links\n", len(links))
	return nil
}
