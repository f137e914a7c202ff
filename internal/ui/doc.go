// Package ui implements an interactive terminal monitor for upload runs using bubbletea's Elm architecture.
//
// The TUI walks through four views:
//  1. [QueueView] : Browse the planned units with their ledger status
//  2. [ConfirmView] : Confirm the run
//  3. [UploadView] : Watch per-unit progress bars fed by the engine's progress channel
//  4. [ResultView] : Display the run summary
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// Stopping a run cancels its context, so every active session pauses at its last checkpoint and stays resumable.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, y/n, s, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
