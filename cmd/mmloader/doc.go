// Command mmloader loads reviewed trial and patient documents into a
// MatchMiner server and supervises the processes that do so.
package main
