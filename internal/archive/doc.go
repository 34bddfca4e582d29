// Package archive fetches data files from the field logger's own storage
// card over the serial console.
//
// The logger offers a text menu with a file-transfer submenu. A sync cycle
// walks that menu as an explicit state machine (looplab/fsm):
//
//	seek_menu → enter_file_mode → list_files → diff → reset_check → download → exit_menu → done
//
// Any failure after the menu was reached detours through exit_menu to failed,
// so the logger is never left showing its menu. A failure in seek_menu goes
// straight to failed.
//
// # Listing trust
//
// Directory listings come over a noisy radio link. A listing is used only
// after two consecutive fetches agree on every (name, size, modified) entry.
//
// # Card resets
//
// File names carry a zero-padded counter, so name order is recording order.
// When a file still to be fetched sorts before the newest file already on
// disk, the card was replaced or renumbered: everything on disk is moved to
// an Archived-<timestamp> directory before the new files are fetched.
package archive
