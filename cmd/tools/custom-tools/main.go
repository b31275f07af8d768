package main

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func main() {
	s := server.NewMCPServer("crucible-custom-tools", "0.1.0")

	s.AddTool(mcp.Tool{
		Name:        "generate_id",
		Description: "Generate a random ID with a given prefix and length.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"prefix": map[string]any{
					"type":        "string",
					"description": "The prefix for the ID (default: ID)",
				},
				"length": map[string]any{
					"type":        "integer",
					"description": "The length of the random part (default: 8)",
				},
			},
		},
	}, handleGenerateID)

	s.AddTool(mcp.Tool{
		Name:        "get_timestamp",
		Description: "Get the current timestamp. Formats: iso, unix, readable.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"format": map[string]any{
					"type":        "string",
					"description": "Timestamp format: iso, unix or readable (default: iso)",
				},
			},
		},
	}, handleGetTimestamp)

	s.AddTool(mcp.Tool{
		Name:        "calculate_hash",
		Description: "Calculate the hash of a text. Algorithms: md5, sha256, sha512.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"text": map[string]any{
					"type":        "string",
					"description": "The text to hash",
				},
				"algorithm": map[string]any{
					"type":        "string",
					"description": "Hash algorithm: md5, sha256 or sha512 (default: sha256)",
				},
			},
			Required: []string{"text"},
		},
	}, handleCalculateHash)

	s.AddTool(mcp.Tool{
		Name:        "base64_encode",
		Description: "Encode text to base64.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"text": map[string]any{
					"type":        "string",
					"description": "The text to encode",
				},
			},
			Required: []string{"text"},
		},
	}, handleBase64Encode)

	s.AddTool(mcp.Tool{
		Name:        "base64_decode",
		Description: "Decode a base64 string.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"encoded": map[string]any{
					"type":        "string",
					"description": "The base64 encoded string",
				},
			},
			Required: []string{"encoded"},
		},
	}, handleBase64Decode)

	s.AddTool(mcp.Tool{
		Name:        "format_json",
		Description: "Format a JSON string with proper indentation.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"json_string": map[string]any{
					"type":        "string",
					"description": "The JSON string to format",
				},
				"indent": map[string]any{
					"type":        "integer",
					"description": "Number of spaces for indentation (default: 2)",
				},
			},
			Required: []string{"json_string"},
		},
	}, handleFormatJSON)

	s.AddTool(mcp.Tool{
		Name:        "transform_string",
		Description: "Transform text. Operations: upper, lower, title, reverse, capitalize.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"text": map[string]any{
					"type":        "string",
					"description": "The text to transform",
				},
				"operation": map[string]any{
					"type":        "string",
					"description": "Operation: upper, lower, title, reverse or capitalize (default: upper)",
				},
			},
			Required: []string{"text"},
		},
	}, handleTransformString)

	if err := server.ServeStdio(s); err != nil {
		fmt.Printf("server error: %v\n", err)
	}
}

func getArgs(request mcp.CallToolRequest) map[string]any {
	args, _ := request.Params.Arguments.(map[string]any)
	return args
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
	}
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}

func handleGenerateID(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)

	prefix, _ := args["prefix"].(string)
	if prefix == "" {
		prefix = "ID"
	}
	length := 8
	if v, ok := args["length"].(float64); ok && v > 0 {
		length = int(v)
	}
	if length > 64 {
		length = 64
	}

	var sb strings.Builder
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(idAlphabet))))
		if err != nil {
			return errResult(fmt.Sprintf("error: %v", err)), nil
		}
		sb.WriteByte(idAlphabet[n.Int64()])
	}

	return textResult(prefix + "_" + sb.String()), nil
}

func handleGetTimestamp(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	format, _ := args["format"].(string)

	now := time.Now()
	switch format {
	case "unix":
		return textResult(strconv.FormatInt(now.Unix(), 10)), nil
	case "readable":
		return textResult(now.Format("2006-01-02 15:04:05")), nil
	default:
		return textResult(now.Format(time.RFC3339Nano)), nil
	}
}

func handleCalculateHash(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	text, _ := args["text"].(string)
	if text == "" {
		return errResult("error: 'text' is required"), nil
	}
	algorithm, _ := args["algorithm"].(string)

	var sum []byte
	switch algorithm {
	case "md5":
		h := md5.Sum([]byte(text))
		sum = h[:]
	case "sha512":
		h := sha512.Sum512([]byte(text))
		sum = h[:]
	default:
		h := sha256.Sum256([]byte(text))
		sum = h[:]
	}

	return textResult(hex.EncodeToString(sum)), nil
}

func handleBase64Encode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	text, _ := args["text"].(string)
	if text == "" {
		return errResult("error: 'text' is required"), nil
	}
	return textResult(base64.StdEncoding.EncodeToString([]byte(text))), nil
}

func handleBase64Decode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	encoded, _ := args["encoded"].(string)
	if encoded == "" {
		return errResult("error: 'encoded' is required"), nil
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return errResult(fmt.Sprintf("error decoding: %v", err)), nil
	}
	return textResult(string(decoded)), nil
}

func handleFormatJSON(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	jsonString, _ := args["json_string"].(string)
	if jsonString == "" {
		return errResult("error: 'json_string' is required"), nil
	}
	indent := 2
	if v, ok := args["indent"].(float64); ok && v > 0 {
		indent = int(v)
	}

	var parsed any
	if err := json.Unmarshal([]byte(jsonString), &parsed); err != nil {
		return errResult(fmt.Sprintf("invalid JSON: %v", err)), nil
	}
	out, err := json.MarshalIndent(parsed, "", strings.Repeat(" ", indent))
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}
	return textResult(string(out)), nil
}

func handleTransformString(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	text, _ := args["text"].(string)
	if text == "" {
		return errResult("error: 'text' is required"), nil
	}
	operation, _ := args["operation"].(string)

	switch operation {
	case "lower":
		return textResult(strings.ToLower(text)), nil
	case "title":
		return textResult(strings.Title(text)), nil
	case "reverse":
		runes := []rune(text)
		for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
			runes[i], runes[j] = runes[j], runes[i]
		}
		return textResult(string(runes)), nil
	case "capitalize":
		if len(text) > 0 {
			return textResult(strings.ToUpper(text[:1]) + strings.ToLower(text[1:])), nil
		}
		return textResult(text), nil
	default:
		return textResult(strings.ToUpper(text)), nil
	}
}
