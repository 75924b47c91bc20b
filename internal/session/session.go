// Package session tracks active one-to-one pairings. Each session is stored
// as two directed entries, one per participant, so that partner lookup is a
// single map read in either direction.
package session
