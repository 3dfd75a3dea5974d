package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Board dimensions and the cell-kind range. Kind 0 is empty, 1-7 index the palette.
const (
	BoardRows   = 20
	BoardCols   = 10
	MaxCellKind = 7

	// InvalidCellKind stands in for a received cell that is not an integral number.
	InvalidCellKind = -1
)

var (
	// ErrBoardDimensions is returned when a received matrix is not exactly BoardRows x BoardCols.
	ErrBoardDimensions = errors.New("board matrix has wrong dimensions")
	// ErrCellKind is returned when a received cell-kind falls outside [0, MaxCellKind].
	ErrCellKind = errors.New("cell-kind outside palette range")
)

// BoardMatrix is a grid of cell kinds indexed [y][x]: the settled-block board, or a
// piece shape.
type BoardMatrix [][]int

// UnmarshalJSON decodes a grid cell by cell. Integral numbers are accepted whatever
// their spelling, so 7.0 is kind 7. Any other cell decodes as InvalidCellKind instead
// of failing the payload.
func (b *BoardMatrix) UnmarshalJSON(data []byte) error {
	var rows [][]cellKind
	if err := json.Unmarshal(data, &rows); err != nil {
		return err
	}
	if rows == nil {
		*b = nil
		return nil
	}

	grid := make(BoardMatrix, len(rows))
	for y, row := range rows {
		grid[y] = make([]int, len(row))
		for x, kind := range row {
			grid[y][x] = int(kind)
		}
	}
	*b = grid
	return nil
}

type cellKind int

func (k *cellKind) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err != nil || string(data) == "null" {
		*k = InvalidCellKind
		return nil
	}
	if f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		*k = InvalidCellKind
		return nil
	}
	*k = cellKind(f)
	return nil
}

// At returns the kind at (x, y). Cells missing from a ragged or short matrix read as empty,
// so a malformed board still yields a full grid for the renderer.
func (b BoardMatrix) At(x, y int) int {
	if y < 0 || y >= len(b) || x < 0 || x >= len(b[y]) {
		return 0
	}
	return b[y][x]
}

// Validate reports the first protocol violation in the matrix, if any.
// A non-nil error does not make the board unrenderable.
func (b BoardMatrix) Validate() error {
	if len(b) != BoardRows {
		return fmt.Errorf("%w: %d rows", ErrBoardDimensions, len(b))
	}
	for y, row := range b {
		if len(row) != BoardCols {
			return fmt.Errorf("%w: row %d has %d cols", ErrBoardDimensions, y, len(row))
		}
		for x, kind := range row {
			if kind < 0 || kind > MaxCellKind {
				return fmt.Errorf("%w: %d at (%d,%d)", ErrCellKind, kind, x, y)
			}
		}
	}
	return nil
}

// NewBoard returns an empty board.
func NewBoard() BoardMatrix {
	board := make(BoardMatrix, BoardRows)
	for y := range board {
		board[y] = make([]int, BoardCols)
	}
	return board
}

// Piece is the active falling shape. Shape cells of kind 0 are transparent.
// X and Y are the board-cell offset of the shape's top-left corner.
type Piece struct {
	Shape BoardMatrix `json:"shape"`
	X     int         `json:"x"`
	Y     int         `json:"y"`
}

// GameState is the game_update payload. A nil CurrentPiece means no piece is shown.
type GameState struct {
	Board        BoardMatrix `json:"board"`
	CurrentPiece *Piece      `json:"current_piece"`
}

// DecodeGameState decodes a game_update payload.
func DecodeGameState(payload json.RawMessage) (state GameState, err error) {
	if err = json.Unmarshal(payload, &state); err != nil {
		err = fmt.Errorf("decode game state: %w", err)
	}
	return
}
