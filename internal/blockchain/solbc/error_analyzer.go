package solbc

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// ProgramError is a program-level rejection extracted from a failed send.
type ProgramError struct {
	Code int      `json:"code"`
	Name string   `json:"name,omitempty"`
	Msg  string   `json:"msg,omitempty"`
	Logs []string `json:"logs,omitempty"`
}

func (e *ProgramError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("program error %d (%s): %s", e.Code, e.Name, e.Msg)
	}
	return fmt.Sprintf("program error %d", e.Code)
}

var customErrRe = regexp.MustCompile(`custom program error: 0x([0-9a-fA-F]+)`)

// AnalyzeSendError extracts the program error from a simulation failure.
// Returns nil when err is not a program rejection.
func AnalyzeSendError(err error) *ProgramError {
	if err == nil {
		return nil
	}

	var result *ProgramError
	if m := customErrRe.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.ParseInt(m[1], 16, 64)
		result = &ProgramError{Code: int(code)}
	}

	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) || !strings.Contains(rpcErr.Message, "Transaction simulation failed") {
		return result
	}

	dataMap, ok := rpcErr.Data.(map[string]interface{})
	if !ok {
		return result
	}
	logs, _ := dataMap["logs"].([]interface{})
	for _, entry := range logs {
		logStr, ok := entry.(string)
		if !ok {
			continue
		}
		if result == nil {
			result = &ProgramError{}
		}
		result.Logs = append(result.Logs, logStr)
		if strings.Contains(logStr, "AnchorError") {
			anchor := parseAnchorErrorLog(logStr)
			result.Code, result.Name, result.Msg = anchor.Code, anchor.Name, anchor.Msg
		}
	}
	return result
}

// parseAnchorErrorLog parses an Anchor error log string
// Example: "Program log: AnchorError occurred. Error Code: PoolNotLocked. Error Number: 6001. Error Message: Pool is not locked."
func parseAnchorErrorLog(logStr string) ProgramError {
	result := ProgramError{}

	if parts := strings.Split(logStr, "Error Number:"); len(parts) > 1 {
		numParts := strings.Split(parts[1], ".")
		if n, err := strconv.Atoi(strings.TrimSpace(numParts[0])); err == nil {
			result.Code = n
		}
	}

	if parts := strings.Split(logStr, "Error Code:"); len(parts) > 1 {
		result.Name = strings.TrimSpace(strings.Split(parts[1], ".")[0])
	}

	if parts := strings.Split(logStr, "Error Message:"); len(parts) > 1 {
		result.Msg = strings.TrimSuffix(strings.TrimSpace(parts[1]), ".")
	}

	return result
}
