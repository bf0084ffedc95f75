// Ships service logs read from stdin to S3 in batches, so that testnet
// runs leave an inspectable trace.
//
// Intended usage:
//
//	journalctl -f -o cat -u timeservice | journaltail -bucket <bucket> -prefix <host>

package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

const (
	maxBatchLen = 512 * 1024
	flushPeriod = 60 * time.Second
)

func main() {
	var region, bucket, prefix string
	flag.StringVar(&region, "region", "eu-central-1", "AWS region")
	flag.StringVar(&bucket, "bucket", "", "S3 bucket")
	flag.StringVar(&prefix, "prefix", "", "S3 key prefix, e.g. the host name")
	flag.Parse()
	if bucket == "" || prefix == "" {
		flag.Usage()
		os.Exit(2)
	}

	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		log.Fatal(err)
	}
	svc := s3.New(sess)

	lines := make(chan string)
	go func() {
		s := bufio.NewScanner(os.Stdin)
		s.Buffer(make([]byte, 64*1024), 1024*1024)
		for s.Scan() {
			lines <- s.Text()
		}
		if err := s.Err(); err != nil {
			log.Print(err)
		}
		close(lines)
	}()

	var batch bytes.Buffer
	seq := 0
	flush := func() {
		if batch.Len() == 0 {
			return
		}
		key := fmt.Sprintf("%s/%s-%06d.log",
			prefix, time.Now().UTC().Format("20060102-150405"), seq)
		_, err := svc.PutObject(&s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(batch.Bytes()),
		})
		if err != nil {
			// Keep the batch, the next flush retries the upload.
			log.Printf("failed to upload %s: %v", key, err)
			return
		}
		seq++
		batch.Reset()
	}

	t := time.NewTicker(flushPeriod)
	defer t.Stop()
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				flush()
				return
			}
			batch.WriteString(line)
			batch.WriteByte('\n')
			if batch.Len() >= maxBatchLen {
				flush()
			}
		case <-t.C:
			flush()
		}
	}
}
