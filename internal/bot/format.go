package bot

import (
	"strconv"
	"strings"

	"bookbot/internal/openlibrary"
)

const (
	GreetingText      = "Hello! Just send me a book title or an author's name, and I'll try to find it for you."
	NoBooksText       = "I couldn't find any books matching your query."
	FetchProblemText  = "There was a problem fetching the book data."
	GenericFailedText = "An error occurred while fetching book data."

	resultsHeader = "Here's what I found:\n\n"
)

// formatResults renders up to limit docs as one reply message.
func formatResults(res *openlibrary.Result, limit int) string {
	docs := res.Docs
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}

	var b strings.Builder
	b.WriteString(resultsHeader)
	for _, d := range docs {
		writeDoc(&b, d)
	}
	return b.String()
}

func writeDoc(b *strings.Builder, d openlibrary.Doc) {
	// A blank title reads the same as a missing one.
	title := d.Title
	if strings.TrimSpace(title) == "" {
		title = "No title available"
	}
	author := "No author"
	if len(d.AuthorNames) > 0 {
		author = strings.Join(d.AuthorNames, ", ")
	}
	year := "N/A"
	if d.FirstPublishYear != nil {
		year = strconv.Itoa(*d.FirstPublishYear)
	}
	cover := "No cover available"
	if d.CoverID != nil && *d.CoverID != 0 {
		cover = openlibrary.CoverURL(*d.CoverID)
	}

	b.WriteString("Title: " + title + "\n")
	b.WriteString("Author: " + author + "\n")
	b.WriteString("Year: " + year + "\n")
	b.WriteString("Cover: " + cover + "\n")
	b.WriteString("More Info: " + openlibrary.WorkURL(d.Key) + "\n\n")
}
