package seatmap

import "strconv"

// MaxSeatsPerRow bounds the column letters to A..Z.
const MaxSeatsPerRow = 26

// Labels returns the seat labels of a bus with the given capacity, row by
// row: 1A, 1B, 1C, 1D, 2A, ... The last row may be partial.
func Labels(capacity, seatsPerRow int) []string {
	if capacity <= 0 || seatsPerRow <= 0 || seatsPerRow > MaxSeatsPerRow {
		return nil
	}
	labels := make([]string, capacity)
	for i := 0; i < capacity; i++ {
		row := i/seatsPerRow + 1
		col := byte('A' + i%seatsPerRow)
		labels[i] = strconv.Itoa(row) + string(col)
	}
	return labels
}
