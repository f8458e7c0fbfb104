package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"
	"k8s.io/client-go/util/homedir"

	"github.com/gluk-w/teemux/internal/config"
	"github.com/gluk-w/teemux/internal/logutil"
)

type KubernetesBackend struct {
	clientset  kubernetes.Interface
	restConfig *rest.Config
	available  bool
	inCluster  bool
}

func (k *KubernetesBackend) Initialize(ctx context.Context) error {
	cfg, err := rest.InClusterConfig()
	if err == nil {
		k.inCluster = true
	} else {
		kubeconfig := clientcmd.NewDefaultClientConfigLoadingRules().GetDefaultFilename()
		if home := homedir.HomeDir(); home != "" && kubeconfig == "" {
			kubeconfig = home + "/.kube/config"
		}
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return fmt.Errorf("k8s config: %w", err)
		}
	}

	k.restConfig = cfg
	k.clientset, err = kubernetes.NewForConfig(cfg)
	if err != nil {
		return fmt.Errorf("k8s clientset: %w", err)
	}

	_, err = k.clientset.CoreV1().Namespaces().Get(ctx, k.ns(), metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("k8s namespace check: %w", err)
	}

	k.available = true
	log.Printf("[exec] Kubernetes connected (namespace %s, in-cluster %v)", k.ns(), k.inCluster)
	return nil
}

func (k *KubernetesBackend) IsAvailable(_ context.Context) bool {
	return k.available
}

func (k *KubernetesBackend) BackendName() string {
	return "kubernetes"
}

func (k *KubernetesBackend) ns() string {
	return config.Cfg.K8sNamespace
}

// resolvePod accepts a pod name or an "app" label value.
func (k *KubernetesBackend) resolvePod(ctx context.Context, target string) (string, error) {
	pod, err := k.clientset.CoreV1().Pods(k.ns()).Get(ctx, target, metav1.GetOptions{})
	if err == nil {
		return pod.Name, nil
	}
	if !apierrors.IsNotFound(err) {
		return "", err
	}

	pods, err := k.clientset.CoreV1().Pods(k.ns()).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("app=%s", target),
		FieldSelector: "status.phase=Running",
	})
	if err != nil {
		return "", err
	}
	if len(pods.Items) == 0 {
		return "", fmt.Errorf("no running pod found for %s", target)
	}
	return pods.Items[0].Name, nil
}

// termSizeQueue implements remotecommand.TerminalSizeQueue. Only the latest
// pending size is kept.
type termSizeQueue struct {
	ch     chan remotecommand.TerminalSize
	mu     sync.Mutex
	closed bool
}

func newTermSizeQueue(rows, cols uint16) *termSizeQueue {
	q := &termSizeQueue{ch: make(chan remotecommand.TerminalSize, 1)}
	q.ch <- remotecommand.TerminalSize{Width: cols, Height: rows}
	return q
}

func (q *termSizeQueue) Next() *remotecommand.TerminalSize {
	size, ok := <-q.ch
	if !ok {
		return nil
	}
	return &size
}

func (q *termSizeQueue) push(rows, cols uint16) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	select {
	case <-q.ch:
	default:
	}
	q.ch <- remotecommand.TerminalSize{Width: cols, Height: rows}
}

func (q *termSizeQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

func (k *KubernetesBackend) ExecInteractive(ctx context.Context, target string, cmd []string, rows, cols uint16) (*ExecStream, error) {
	podName, err := k.resolvePod(ctx, target)
	if err != nil {
		return nil, err
	}

	req := k.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(podName).
		Namespace(k.ns()).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Command: cmd,
			Stdin:   true,
			Stdout:  true,
			Stderr:  false,
			TTY:     true,
		}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(k.restConfig, "POST", req.URL())
	if err != nil {
		return nil, fmt.Errorf("create executor: %w", err)
	}

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	sizes := newTermSizeQueue(rows, cols)

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	go func() {
		defer close(done)
		err := exec.StreamWithContext(streamCtx, remotecommand.StreamOptions{
			Stdin:             stdinR,
			Stdout:            stdoutW,
			Tty:               true,
			TerminalSizeQueue: sizes,
		})
		if err != nil && streamCtx.Err() == nil {
			log.Printf("[exec] k8s exec in %s ended: %v", logutil.SanitizeForLog(podName), err)
			stdoutW.CloseWithError(err)
			return
		}
		stdoutW.Close()
	}()

	log.Printf("[exec] k8s exec in %s/%s", k.ns(), logutil.SanitizeForLog(podName))

	return newExecStream(stdoutR, stdinW,
		func(rows, cols uint16) error {
			sizes.push(rows, cols)
			return nil
		},
		func() error {
			cancel()
			sizes.close()
			stdinW.Close()
			stdoutR.Close()
			<-done
			return nil
		},
	), nil
}
