// Package report renders the outcome of a resolve or fetch run: which site
// got which proxy identity, when it expires, and what each fetched URL
// returned.
//
// Writers exist for plain text (SimpleWriter), JSON (JSONWriter,
// FullJSONWriter) and GitHub Flavored Markdown (MarkdownWriter). None of
// them ever prints a proxy password; credential rows carry the redacted
// proxy URL only.
package report
