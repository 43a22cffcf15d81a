package reader

import (
	"dyslexiareader/internal/cli/scheme/colours"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// SearchGutenberg lists Project Gutenberg books matching the arguments
func (r *Reader) SearchGutenberg(cmd *cobra.Command, args []string) {
	query := strings.Join(args, " ")
	colours.Info.Fprintf(r.out, "🔎 Searching Project Gutenberg for %q...\n", query)

	entries, err := r.library.Search(r.ctx, query)
	if err != nil {
		colours.Error.Fprintf(r.out, "❌ Search failed: %v\n", err)
		return
	}
	if len(entries) == 0 {
		colours.Warning.Fprintln(r.out, "🔍 No books found.")
		return
	}

	fmt.Fprintln(r.out)
	for _, e := range entries {
		colours.Info.Fprintf(r.out, "  %6d  ", e.ID)
		colours.Title.Fprint(r.out, e.Title)
		fmt.Fprint(r.out, " by ")
		colours.Author.Fprintln(r.out, e.Author)
	}
	fmt.Fprintln(r.out)
	colours.Success.Fprintf(r.out, "✨ Read one with: dyslexiareader read --gutenberg %d\n", entries[0].ID)
}

// ShowCacheStatus displays information about the book cache
func (r *Reader) ShowCacheStatus(cmd *cobra.Command, args []string) {
	colours.Title.Fprintln(r.out, "📊 Gutenberg Cache Status")

	info, err := r.library.CacheInfo()
	if err != nil {
		colours.Error.Fprintf(r.out, "❌ Failed to get cache info: %v\n", err)
		return
	}

	colours.Info.Fprintf(r.out, "📁 Location: %s\n", info.Dir)
	if info.Books == 0 {
		colours.Warning.Fprintln(r.out, "❌ No cached books")
		return
	}
	colours.Info.Fprintf(r.out, "📚 Books: %d (%d stale)\n", info.Books, info.Stale)
	colours.Info.Fprintf(r.out, "📏 Size: %d bytes\n", info.Bytes)
	colours.Info.Fprintf(r.out, "⏳ Max age: %.1f hours\n", info.MaxAge.Hours())
}

// ClearCache removes every cached book
func (r *Reader) ClearCache(cmd *cobra.Command, args []string) {
	if err := r.library.ClearCache(); err != nil {
		colours.Error.Fprintf(r.out, "❌ Failed to clear cache: %v\n", err)
		return
	}
	colours.Success.Fprintln(r.out, "✅ Cache cleared")
}

// AddGutenbergCommands registers the gutenberg command tree
func (r *Reader) AddGutenbergCommands(rootCmd *cobra.Command) {
	gutenbergCmd := &cobra.Command{
		Use:   "gutenberg",
		Short: "📚 Find Project Gutenberg books",
		Long:  "Search Project Gutenberg and manage the local book cache",
	}

	searchCmd := &cobra.Command{
		Use:   "search [terms]",
		Short: "🔎 Search books",
		Args:  cobra.MinimumNArgs(1),
		Run:   r.SearchGutenberg,
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "📊 Show cache status",
		Long:  "Display information about the local Gutenberg cache",
		Run:   r.ShowCacheStatus,
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "🧹 Clear cached books",
		Run:   r.ClearCache,
	}

	gutenbergCmd.AddCommand(searchCmd, statusCmd, clearCmd)
	rootCmd.AddCommand(gutenbergCmd)
}
