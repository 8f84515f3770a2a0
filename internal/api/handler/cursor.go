package handler

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

const rowCursorPrefix = "row|"

// DecodeRowCursor returns the row number a page starts after. An empty cursor starts at the top.
func DecodeRowCursor(cursorStr string) (int, error) {
	if cursorStr == "" {
		return 0, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(cursorStr)
	if err != nil {
		return 0, err
	}

	raw, ok := strings.CutPrefix(string(decoded), rowCursorPrefix)
	if !ok {
		return 0, fmt.Errorf("invalid cursor format")
	}

	rowNumber, err := strconv.Atoi(raw)
	if err != nil || rowNumber < 0 {
		return 0, fmt.Errorf("invalid row number in cursor: %q", raw)
	}
	return rowNumber, nil
}

func EncodeRowCursor(rowNumber int) string {
	return base64.StdEncoding.EncodeToString([]byte(rowCursorPrefix + strconv.Itoa(rowNumber)))
}
