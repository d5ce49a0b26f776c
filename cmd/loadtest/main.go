package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

var (
	flagAddr        = flag.String("addr", "localhost:8080", "Marketplace host:port")
	flagShoppers    = flag.Int("shoppers", 1000, "Number of shoppers racing for the product")
	flagStock       = flag.Int("stock", 10, "Units of stock on the contested product")
	flagConcurrency = flag.Int("concurrency", 100, "Number of concurrent workers")
	flagDebug       = flag.Bool("debug", false, "Enable debug logging")
)

var (
	finished    int64
	placed      int64
	conflicts   int64
	otherErrors int64

	statusMu       sync.Mutex
	statusCountMap = map[int]int64{}

	errMu      sync.Mutex
	errSamples []string
	errLimit   = 20
)

func recordStatus(code int) {
	statusMu.Lock()
	statusCountMap[code]++
	statusMu.Unlock()
}

func recordClientErr(err error) {
	errMu.Lock()
	if len(errSamples) < errLimit {
		errSamples = append(errSamples, err.Error())
	}
	errMu.Unlock()
}

type idResp struct {
	ID string `json:"id"`
}

type productResp struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

type caller struct {
	userID string
	admin  bool
}

func newHTTPClient() *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 1000,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   3 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   3 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   10 * time.Second,
		Transport: transport,
	}
}

func doJSONRequest(client *http.Client, as caller, method, url string, body any) (*http.Response, []byte, error) {
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, nil, err
		}
		buf = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, url, buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if as.userID != "" {
		req.Header.Set("X-User-ID", as.userID)
	}
	if as.admin {
		req.Header.Set("X-User-Admin", "true")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16384))
	resp.Body.Close()
	return resp, respBody, nil
}

// createUser provisions an account through the admin endpoint.
func createUser(client *http.Client, baseURL, name string) (string, error) {
	admin := caller{userID: "loadtest-admin", admin: true}
	resp, body, err := doJSONRequest(client, admin, "POST", baseURL+"/users", map[string]any{
		"name":  name,
		"email": name + "@loadtest.local",
	})
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create user: %d %s", resp.StatusCode, string(body))
	}
	var u idResp
	if err := json.Unmarshal(body, &u); err != nil || u.ID == "" {
		return "", fmt.Errorf("create user: bad response %s", string(body))
	}
	return u.ID, nil
}

func setup(client *http.Client, baseURL string, stock int) (string, error) {
	sellerID, err := createUser(client, baseURL, "seller")
	if err != nil {
		return "", err
	}
	resp, body, err := doJSONRequest(client, caller{userID: sellerID}, "POST", baseURL+"/seller/products", map[string]any{
		"title":       "Limited edition",
		"brand":       "Loadtest",
		"price":       "19.99",
		"description": "Contested stock",
		"category":    "test",
		"images":      []string{"/images/limited.jpg"},
		"quantity":    stock,
	})
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create product: %d %s", resp.StatusCode, string(body))
	}
	var p productResp
	if err := json.Unmarshal(body, &p); err != nil || p.ID == "" {
		return "", fmt.Errorf("create product: bad response %s", string(body))
	}
	return p.ID, nil
}

func runShopper(client *http.Client, baseURL, productID string, n int, debug bool) {
	defer atomic.AddInt64(&finished, 1)

	// 1. account
	userID, err := createUser(client, baseURL, fmt.Sprintf("shopper-%d", n))
	if err != nil {
		recordClientErr(err)
		atomic.AddInt64(&otherErrors, 1)
		return
	}
	as := caller{userID: userID}

	// 2. add to cart
	resp, body, err := doJSONRequest(client, as, "POST", baseURL+"/cart/items", map[string]any{
		"product_id": productID,
		"quantity":   1,
	})
	if err != nil {
		recordClientErr(err)
		atomic.AddInt64(&otherErrors, 1)
		return
	}
	if resp.StatusCode != http.StatusOK {
		recordStatus(resp.StatusCode)
		atomic.AddInt64(&otherErrors, 1)
		if debug {
			fmt.Printf("[add-item] %d %s\n", resp.StatusCode, string(body))
		}
		return
	}

	// 3. place order
	resp, body, err = doJSONRequest(client, as, "POST", baseURL+"/orders", map[string]any{
		"shipping_address": map[string]string{
			"address":     "1 Main St",
			"city":        "Seattle",
			"postal_code": "98101",
			"country":     "US",
		},
		"payment": map[string]string{
			"id":     fmt.Sprintf("pay-%d", n),
			"method": "card",
			"status": "COMPLETED",
		},
		"shipping_price": "0",
		"tax_price":      "0",
	})
	if err != nil {
		recordClientErr(err)
		atomic.AddInt64(&otherErrors, 1)
		return
	}

	recordStatus(resp.StatusCode)
	switch resp.StatusCode {
	case http.StatusCreated:
		atomic.AddInt64(&placed, 1)
	case http.StatusConflict:
		atomic.AddInt64(&conflicts, 1)
	default:
		atomic.AddInt64(&otherErrors, 1)
		if debug {
			fmt.Printf("[place-order] %d %s\n", resp.StatusCode, string(body))
		}
	}
}

func remainingStock(client *http.Client, baseURL, productID string) (int, error) {
	resp, body, err := doJSONRequest(client, caller{}, "GET", baseURL+"/products/"+productID, nil)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("get product: %d %s", resp.StatusCode, string(body))
	}
	var p productResp
	if err := json.Unmarshal(body, &p); err != nil {
		return 0, err
	}
	return p.Quantity, nil
}

func main() {
	flag.Parse()

	if *flagShoppers < 1 || *flagStock < 0 || *flagConcurrency < 1 {
		fmt.Println("Usage: loadtest -addr <host:port> [-shoppers 1000] [-stock 10] [-concurrency 100] [-debug]")
		os.Exit(1)
	}

	baseURL := "http://" + *flagAddr
	shoppers := *flagShoppers
	stock := *flagStock
	conc := *flagConcurrency
	debug := *flagDebug

	fmt.Println("===== Load Tester =====")
	fmt.Println("Addr:", *flagAddr)
	fmt.Println("Shoppers:", shoppers)
	fmt.Println("Stock:", stock)
	fmt.Println("Concurrency:", conc)

	client := newHTTPClient()

	productID, err := setup(client, baseURL, stock)
	if err != nil {
		fmt.Println("setup failed:", err)
		os.Exit(1)
	}
	fmt.Println("Product:", productID)

	start := time.Now()
	taskCh := make(chan int)
	var wg sync.WaitGroup

	for i := 0; i < conc; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range taskCh {
				runShopper(client, baseURL, productID, n, debug)
			}
		}()
	}

	go func() {
		for i := 0; i < shoppers; i++ {
			taskCh <- i
		}
		close(taskCh)
	}()

	wg.Wait()
	elapsed := time.Since(start).Seconds()

	left, stockErr := remainingStock(client, baseURL, productID)

	fmt.Println("===== Results =====")
	fmt.Printf("Shoppers finished  : %d\n", finished)
	fmt.Printf("201 Placed         : %d\n", placed)
	fmt.Printf("409 Conflict       : %d\n", conflicts)
	fmt.Printf("Other errors       : %d\n", otherErrors)
	if stockErr != nil {
		fmt.Printf("Remaining stock    : unknown (%v)\n", stockErr)
	} else {
		fmt.Printf("Remaining stock    : %d\n", left)
	}
	fmt.Printf("Elapsed time       : %.2fs\n", elapsed)
	fmt.Printf("Throughput         : %.2f shoppers/s\n", float64(finished)/elapsed)

	if debug {
		fmt.Println("----- Status breakdown -----")
		statusMu.Lock()
		keys := []int{}
		for k := range statusCountMap {
			keys = append(keys, k)
		}
		sort.Ints(keys)
		for _, k := range keys {
			fmt.Printf("%d : %d\n", k, statusCountMap[k])
		}
		statusMu.Unlock()

		errMu.Lock()
		if len(errSamples) > 0 {
			fmt.Println("----- Sample client-side errors -----")
			for i, e := range errSamples {
				fmt.Printf("[%d] %s\n", i+1, e)
			}
		}
		errMu.Unlock()
	}

	want := min(stock, shoppers)
	oversold := placed > int64(want) || (stockErr == nil && left < 0)
	if oversold {
		fmt.Printf("FAIL: %d orders placed for %d units\n", placed, stock)
		os.Exit(1)
	}
	if otherErrors == 0 && placed != int64(want) {
		fmt.Printf("FAIL: expected %d orders, got %d\n", want, placed)
		os.Exit(1)
	}
	fmt.Println("OK: no overselling")
}
