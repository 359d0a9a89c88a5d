// cartctl drives a cartd session from the command line.
// Each command performs a single operation, making it composable for scripts.
//
// Commands:
//
//	cartctl session [-close ID]
//	cartctl cart -session ID [-refresh]
//	cartctl inc|dec|rm -session ID -key KEY
//	cartctl coupon|uncoupon -session ID -code CODE
//	cartctl ship -session ID -method ID
//	cartctl add -session ID -product ID [-variation ID] [-qty N] [-attr name=value]
//	cartctl products -session ID [-search TEXT] [-page N]
//	cartctl reorder -session ID -dragged KEY -target KEY
//	cartctl checkout -session ID [-show] [-step N] [-field name=value] [-submit]
//	cartctl watch -session ID
//
// Examples:
//
//	ID=$(cartctl session -q)
//	cartctl add -session "$ID" -product 60 -qty 2
//	cartctl coupon -session "$ID" -code 10OFF
//	cartctl watch -session "$ID"
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"cartsync/internal/model"
	"cartsync/internal/negotiation"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "v0.1.0"

var client = &http.Client{Timeout: 30 * time.Second}

// Global flags (apply to all commands)
var (
	serverURL string
	sessionID string
	quiet     bool
	noColor   bool
	verbose   bool
)

// ANSI color codes
var (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func init() {
	if os.Getenv("NO_COLOR") != "" {
		disableColors()
	}
}

func disableColors() {
	colorReset, colorRed, colorGreen, colorYellow = "", "", "", ""
	colorBlue, colorCyan, colorGray, colorBold = "", "", "", ""
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "session":
		runSession(args)
	case "cart":
		runCart(args)
	case "inc", "dec", "rm":
		runItem(cmd, args)
	case "coupon", "uncoupon":
		runCoupon(cmd, args)
	case "ship":
		runShip(args)
	case "add":
		runAdd(args)
	case "products":
		runProducts(args)
	case "reorder":
		runReorder(args)
	case "checkout":
		runCheckout(args)
	case "watch":
		runWatch(args)
	case "-h", "-help", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `cartctl - Quick Cart session tool

Usage:
  cartctl <command> [options]

Commands:
  session   Open a session (or close one with -close)
  cart      Show the cart snapshot
  inc       Raise a line's quantity by one
  dec       Lower a line's quantity by one
  rm        Remove a line
  coupon    Apply a coupon code
  uncoupon  Remove a coupon code
  ship      Select a shipping rate
  add       Add a product to the cart
  products  List catalog products
  reorder   Move a line next to another
  checkout  Step through and submit the checkout form
  watch     Stream surface diffs and notices

Examples:
  # Open a session and capture its ID
  ID=$(cartctl session -q)

  # Add two of product 60 and apply a coupon
  cartctl add -session "$ID" -product 60 -qty 2
  cartctl coupon -session "$ID" -code 10OFF

  # Fill the checkout form and place the order
  cartctl checkout -session "$ID" -show -field billing_email=test@example.com -submit

Run 'cartctl <command> -h' for command-specific options.
`)
}

// newFlags returns a flag set carrying the global options.
func newFlags(name, usage string, needSession bool) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.StringVar(&serverURL, "server", envOr("CARTD_URL", "http://localhost:8080"), "cartd base URL")
	if needSession {
		fs.StringVar(&sessionID, "session", os.Getenv("CART_SESSION"), "Session ID (required)")
	}
	fs.BoolVar(&quiet, "q", false, "Quiet mode - only output the essential value")
	fs.BoolVar(&noColor, "no-color", false, "Disable colored output")
	fs.BoolVar(&verbose, "v", false, "Verbose - show full request/response")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cartctl %s\n\nOptions:\n", usage)
		fs.PrintDefaults()
	}
	return fs
}

func parse(fs *flag.FlagSet, args []string, needSession bool) {
	fs.Parse(args)
	if noColor {
		disableColors()
	}
	if needSession && sessionID == "" {
		fs.Usage()
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func sessionPath(parts ...string) string {
	path := "/sessions/" + url.PathEscape(sessionID)
	for _, p := range parts {
		path += "/" + p
	}
	return path
}

// =============================================================================
// SESSION COMMAND
// =============================================================================

func runSession(args []string) {
	fs := newFlags("session", "session [-close ID] [options]", false)
	var closeID string
	fs.StringVar(&closeID, "close", "", "Close the session with this ID")
	parse(fs, args, false)

	if closeID != "" {
		sessionID = closeID
		if _, err := doRequest("DELETE", sessionPath(), nil, nil); err != nil {
			fatal("Failed to close session: %v", err)
		}
		printSuccess("Session closed")
		return
	}

	var resp struct {
		ID       string              `json:"id"`
		Snapshot *model.CartSnapshot `json:"snapshot"`
	}
	if _, err := doRequest("POST", "/sessions", nil, &resp); err != nil {
		fatal("Failed to open session: %v", err)
	}

	if quiet {
		fmt.Println(resp.ID)
		return
	}
	printSuccess("Session opened")
	fmt.Printf("  ID: %s%s%s\n", colorCyan, resp.ID, colorReset)
	printCart(resp.Snapshot)
}

// =============================================================================
// CART COMMANDS
// =============================================================================

func runCart(args []string) {
	fs := newFlags("cart", "cart -session ID [-refresh] [options]", true)
	var refresh bool
	fs.BoolVar(&refresh, "refresh", false, "Re-read the cart from the storefront first")
	parse(fs, args, true)

	method, path := "GET", sessionPath("cart")
	if refresh {
		method, path = "POST", sessionPath("cart", "refresh")
	}
	cartCommand(method, path, nil, "Cart retrieved")
}

func runItem(cmd string, args []string) {
	fs := newFlags(cmd, cmd+" -session ID -key KEY [options]", true)
	var key string
	fs.StringVar(&key, "key", "", "Line item key (required)")
	parse(fs, args, true)
	if key == "" {
		fs.Usage()
		os.Exit(1)
	}

	escaped := url.PathEscape(key)
	switch cmd {
	case "inc":
		cartCommand("POST", sessionPath("items", escaped, "increment"), nil, "Quantity raised")
	case "dec":
		cartCommand("POST", sessionPath("items", escaped, "decrement"), nil, "Quantity lowered")
	case "rm":
		cartCommand("DELETE", sessionPath("items", escaped), nil, "Line removed")
	}
}

func runCoupon(cmd string, args []string) {
	fs := newFlags(cmd, cmd+" -session ID -code CODE [options]", true)
	var code string
	fs.StringVar(&code, "code", "", "Coupon code (required)")
	parse(fs, args, true)
	if code == "" {
		fs.Usage()
		os.Exit(1)
	}

	if cmd == "uncoupon" {
		cartCommand("DELETE", sessionPath("coupons", url.PathEscape(code)), nil, "Coupon removed")
		return
	}
	cartCommand("POST", sessionPath("coupons"), map[string]string{"code": code}, "Coupon applied")
}

func runShip(args []string) {
	fs := newFlags("ship", "ship -session ID -method ID [options]", true)
	var method string
	fs.StringVar(&method, "method", "", "Shipping rate ID, e.g. flat_rate:1 (required)")
	parse(fs, args, true)
	if method == "" {
		fs.Usage()
		os.Exit(1)
	}
	cartCommand("PUT", sessionPath("shipping"), map[string]string{"method_id": method}, "Shipping selected")
}

func runAdd(args []string) {
	fs := newFlags("add", "add -session ID -product ID [options]", true)
	var req model.AddToCart
	fs.IntVar(&req.ProductID, "product", 0, "Product ID (required)")
	fs.IntVar(&req.VariationID, "variation", 0, "Variation ID")
	fs.IntVar(&req.Quantity, "qty", 1, "Quantity")
	fs.Func("attr", "Variation attribute name=value (repeatable)", func(s string) error {
		name, value, ok := strings.Cut(s, "=")
		if !ok {
			return fmt.Errorf("attribute %q is not name=value", s)
		}
		if req.Attributes == nil {
			req.Attributes = make(map[string]string)
		}
		req.Attributes[name] = value
		return nil
	})
	parse(fs, args, true)
	if req.ProductID == 0 {
		fs.Usage()
		os.Exit(1)
	}
	cartCommand("POST", sessionPath("cart", "add"), req, "Add to cart accepted")
}

func runReorder(args []string) {
	fs := newFlags("reorder", "reorder -session ID -dragged KEY -target KEY [options]", true)
	var dragged, target string
	fs.StringVar(&dragged, "dragged", "", "Key of the line being moved (required)")
	fs.StringVar(&target, "target", "", "Key of the line it is dropped on (required)")
	parse(fs, args, true)
	if dragged == "" || target == "" {
		fs.Usage()
		os.Exit(1)
	}
	body := map[string]string{"dragged": dragged, "target": target}
	cartCommand("POST", sessionPath("items", "reorder"), body, "Lines reordered")
}

func cartCommand(method, path string, body any, success string) {
	var snap model.CartSnapshot
	if _, err := doRequest(method, path, body, &snap); err != nil {
		fatal("%v", err)
	}
	if quiet {
		fmt.Println(snap.Count)
		return
	}
	printSuccess("%s", success)
	printCart(&snap)
}

// =============================================================================
// PRODUCTS COMMAND
// =============================================================================

func runProducts(args []string) {
	fs := newFlags("products", "products -session ID [-search TEXT] [-page N] [options]", true)
	var search string
	var page, perPage int
	fs.StringVar(&search, "search", "", "Search text")
	fs.IntVar(&page, "page", 1, "Page number")
	fs.IntVar(&perPage, "per-page", 10, "Products per page")
	parse(fs, args, true)

	query := url.Values{}
	if search != "" {
		query.Set("search", search)
	}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))

	var products []model.Product
	if _, err := doRequest("GET", sessionPath("products")+"?"+query.Encode(), nil, &products); err != nil {
		fatal("Failed to list products: %v", err)
	}

	for _, p := range products {
		if quiet {
			fmt.Println(p.ID)
			continue
		}
		fmt.Printf("  %s%d%s %s (%s) %s%s%s\n", colorCyan, p.ID, colorReset, p.Name, p.Type, colorGreen, p.Price.Display, colorReset)
	}
	if !quiet && len(products) == 0 {
		printInfo("No products")
	}
}

// =============================================================================
// CHECKOUT COMMAND
// =============================================================================

func runCheckout(args []string) {
	fs := newFlags("checkout", "checkout -session ID [options]", true)
	var show, next, prev, submit bool
	var step int
	fields := map[string]string{}
	fs.BoolVar(&show, "show", false, "Open the checkout form")
	fs.BoolVar(&next, "next", false, "Advance one step")
	fs.BoolVar(&prev, "prev", false, "Go back one step")
	fs.IntVar(&step, "step", 0, "Jump to step N")
	fs.Func("field", "Form field name=value (repeatable)", func(s string) error {
		name, value, ok := strings.Cut(s, "=")
		if !ok {
			return fmt.Errorf("field %q is not name=value", s)
		}
		fields[name] = value
		return nil
	})
	fs.BoolVar(&submit, "submit", false, "Place the order")
	parse(fs, args, true)

	var resp struct {
		Checkout map[string]any    `json:"checkout"`
		Order    *model.OrderResult `json:"order"`
	}
	run := func(method, path string, body any) {
		if _, err := doRequest(method, path, body, &resp); err != nil {
			fatal("%v", err)
		}
	}

	// Steps run in form order so one invocation can fill and submit.
	if show {
		run("POST", sessionPath("checkout"), nil)
	}
	if len(fields) > 0 {
		run("PUT", sessionPath("checkout", "fields"), fields)
	}
	switch {
	case step > 0:
		run("POST", sessionPath("checkout", "steps", strconv.Itoa(step)), nil)
	case next:
		run("POST", sessionPath("checkout", "next"), nil)
	case prev:
		run("POST", sessionPath("checkout", "prev"), nil)
	}
	if submit {
		run("POST", sessionPath("checkout", "submit"), nil)
	}
	if resp.Checkout == nil && resp.Order == nil {
		run("GET", sessionPath("checkout"), nil)
	}

	if resp.Order != nil {
		if quiet {
			fmt.Println(resp.Order.OrderID)
			return
		}
		printSuccess("Order placed")
		fmt.Printf("  Order ID: %s%d%s\n", colorGreen, resp.Order.OrderID, colorReset)
		if resp.Order.Redirect != "" {
			fmt.Printf("  Continue URL: %s%s%s\n", colorBlue, resp.Order.Redirect, colorReset)
		}
		return
	}
	if quiet {
		fmt.Println(resp.Checkout["current"])
		return
	}
	printSuccess("Checkout step %v", resp.Checkout["current"])
}

// =============================================================================
// WATCH COMMAND
// =============================================================================

func runWatch(args []string) {
	fs := newFlags("watch", "watch -session ID [options]", true)
	parse(fs, args, true)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	wsURL := strings.Replace(serverURL, "http", "ws", 1) + sessionPath("events")
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{negotiation.CartClientHeader: {clientHeader()}},
	})
	if err != nil {
		fatal("Failed to open event stream: %v", err)
	}
	defer conn.CloseNow()

	printInfo("Watching session %s", sessionID)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				conn.Close(websocket.StatusNormalClosure, "")
			case websocket.CloseStatus(err) == websocket.StatusNormalClosure:
				printInfo("Session closed")
			default:
				fatal("Event stream ended: %v", err)
			}
			return
		}
		printEvent(data)
	}
}

func printEvent(data []byte) {
	if quiet || verbose {
		fmt.Println(string(data))
		return
	}
	var evt struct {
		Type     string `json:"type"`
		Revision uint64 `json:"revision"`
		Diff     *struct {
			Surface string         `json:"surface"`
			Fields  map[string]any `json:"fields"`
		} `json:"diff"`
		Notice *struct {
			Level   string `json:"level"`
			Message string `json:"message"`
		} `json:"notice"`
	}
	if err := json.Unmarshal(data, &evt); err != nil {
		printWarning("Unreadable event: %s", data)
		return
	}
	switch {
	case evt.Notice != nil:
		if evt.Notice.Level == "error" {
			printError("r%d %s", evt.Revision, evt.Notice.Message)
		} else {
			printWarning("r%d %s", evt.Revision, evt.Notice.Message)
		}
	case evt.Diff != nil:
		fields, _ := json.Marshal(evt.Diff.Fields)
		fmt.Printf("%sr%d%s %s%s%s %s\n", colorGray, evt.Revision, colorReset, colorBold, evt.Diff.Surface, colorReset, fields)
	default:
		printInfo("r%d %s", evt.Revision, evt.Type)
	}
}

// =============================================================================
// HTTP HELPERS
// =============================================================================

func clientHeader() string {
	h, err := negotiation.FormatCartClientHeader(negotiation.ClientInfo{Name: "cartctl", Version: version})
	if err != nil {
		fatal("Formatting Cart-Client header: %v", err)
	}
	return h
}

// doRequest sends a JSON request and decodes a successful response into out.
// It returns the response's Cart-State header.
func doRequest(method, path string, body, out any) (negotiation.CartState, error) {
	var state negotiation.CartState
	var reqBody io.Reader
	var reqJSON []byte

	if body != nil {
		var err error
		reqJSON, err = json.MarshalIndent(body, "", "  ")
		if err != nil {
			return state, fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(reqJSON)
	}

	req, err := http.NewRequest(method, serverURL+path, reqBody)
	if err != nil {
		return state, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(negotiation.CartClientHeader, clientHeader())

	if !quiet {
		printRequest(method, path, reqJSON)
	}

	start := time.Now()
	resp, err := client.Do(req)
	duration := time.Since(start)
	if err != nil {
		return state, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return state, fmt.Errorf("reading response: %w", err)
	}

	if h := resp.Header.Get(negotiation.CartStateHeader); h != "" {
		if state, err = negotiation.ParseCartState(h); err != nil {
			printWarning("Unreadable Cart-State header: %v", err)
		}
	}

	if !quiet {
		printResponse(resp.StatusCode, respBody, duration)
		if resp.Header.Get(negotiation.CartStateHeader) != "" {
			printState(state)
		}
	}

	if resp.StatusCode >= 400 {
		return state, apiError(resp.StatusCode, respBody)
	}
	if out == nil || len(respBody) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return state, fmt.Errorf("parsing response: %w", err)
	}
	return state, nil
}

func apiError(status int, body []byte) error {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Code == "" {
		return fmt.Errorf("HTTP %d: %s", status, string(body))
	}
	return fmt.Errorf("%s: %s", envelope.Error.Code, envelope.Error.Message)
}

// =============================================================================
// OUTPUT HELPERS
// =============================================================================

func printCart(snap *model.CartSnapshot) {
	if snap == nil {
		return
	}
	fmt.Printf("  Revision: %d  Items: %s%d%s\n", snap.Revision, colorCyan, snap.Count, colorReset)
	for _, item := range snap.Items {
		fmt.Printf("    %s%s%s %s x%d %s\n", colorGray, item.Key, colorReset, item.Name, item.Quantity, item.LineSubtotal.Display)
	}
	for _, c := range snap.Coupons {
		fmt.Printf("  %sCoupon:%s %s (-%s)\n", colorYellow, colorReset, c.Code, c.Discount.Display)
	}
	for _, m := range snap.ShippingMethods {
		marker := " "
		if m.Selected {
			marker = "*"
		}
		fmt.Printf("  %s %s: %s (%s)\n", marker, m.ID, m.Label, m.Cost.Display)
	}
	fmt.Printf("  Total: %s%s%s\n", colorGreen, snap.Totals.Total.Display, colorReset)
}

func printState(s negotiation.CartState) {
	flags := ""
	if s.Degraded {
		flags = colorRed + " degraded" + colorReset
	}
	pending := "none"
	if len(s.Pending) > 0 {
		pending = strings.Join(s.Pending, ", ")
	}
	fmt.Printf("%s  state: revision=%d count=%d pending=%s%s%s\n", colorGray, s.Revision, s.Count, pending, colorReset, flags)
}

func printRequest(method, path string, body []byte) {
	fmt.Printf("\n%s▶ REQUEST%s %s%s %s%s\n", colorYellow, colorReset, colorBold, method, path, colorReset)
	if body != nil {
		printJSON(body, "  ")
	}
}

func printResponse(status int, body []byte, duration time.Duration) {
	statusColor := colorGreen
	if status >= 400 {
		statusColor = colorRed
	}
	fmt.Printf("\n%s◀ RESPONSE%s %s%d%s (%v)\n", colorCyan, colorReset, statusColor, status, colorReset, duration)
	if len(body) > 0 && verbose {
		printJSON(body, "  ")
	}
}

func printJSON(data []byte, prefix string) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, prefix, "  "); err != nil {
		fmt.Printf("%s%s\n", prefix, string(data))
		return
	}
	fmt.Println(pretty.String())
}

func printSuccess(format string, args ...any) {
	if !quiet {
		fmt.Printf("%s✓ %s%s\n", colorGreen, fmt.Sprintf(format, args...), colorReset)
	}
}

func printError(format string, args ...any) {
	fmt.Printf("%s✗ %s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
}

func printWarning(format string, args ...any) {
	fmt.Printf("%s⚠ %s%s\n", colorYellow, fmt.Sprintf(format, args...), colorReset)
}

func printInfo(format string, args ...any) {
	if !quiet {
		fmt.Printf("%s→ %s%s\n", colorGray, fmt.Sprintf(format, args...), colorReset)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s✗ %s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
	os.Exit(1)
}
