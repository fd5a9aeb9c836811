// Package search holds the web and product search clients used as agent
// tools: Google Programmable Search, a hybrid vector-search backend and the
// DuckDuckGo instant answer API.
package search
