// Package parser turns untrusted HTML into plain text and article records:
// the sanitizer shared by feeds and pages, timestamp parsing, page metadata
// and the homepage scraper.
package parser
